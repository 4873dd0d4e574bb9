package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TranscodeJob is the unit of work handed from upload intake to the
// background workers. SourcePath points at the staged temp file and is
// removed once the job finishes, regardless of outcome.
type TranscodeJob struct {
	StreamID   string      `json:"streamId"`
	VideoID    int64       `json:"videoId"`
	Title      string      `json:"title"`
	SourcePath string      `json:"sourcePath"`
	OutputDir  string      `json:"outputDir"`
	Ladder     []Rendition `json:"ladder"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

func (j TranscodeJob) validate() error {
	if strings.TrimSpace(j.StreamID) == "" {
		return fmt.Errorf("stream id is required")
	}
	if strings.TrimSpace(j.SourcePath) == "" {
		return fmt.Errorf("source path is required")
	}
	if strings.TrimSpace(j.OutputDir) == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// ErrQueueClosed is returned by queue operations after Close.
var ErrQueueClosed = errors.New("ingest: queue closed")

// Queue hands transcode jobs from intake to the worker pool. Dequeue
// blocks until a job is available, the context is cancelled, or the
// queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, job TranscodeJob) error
	Dequeue(ctx context.Context) (TranscodeJob, error)
	Close() error
}

type memoryQueue struct {
	jobs chan TranscodeJob

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue returns an in-process queue backed by a buffered
// channel. It is the default driver for single-node deployments.
func NewMemoryQueue(size int) Queue {
	if size <= 0 {
		size = 64
	}
	return &memoryQueue{jobs: make(chan TranscodeJob, size)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, job TranscodeJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (TranscodeJob, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return TranscodeJob{}, ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return TranscodeJob{}, ctx.Err()
	}
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.jobs)
	return nil
}

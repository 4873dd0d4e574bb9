package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ProcessorMetrics receives transcode lifecycle events. Implementations
// must be safe for concurrent use.
type ProcessorMetrics interface {
	TranscodeStarted()
	TranscodeFinished(outcome string, duration time.Duration)
}

// Transcode outcomes reported to ProcessorMetrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

type ProcessorConfig struct {
	Queue       Queue
	Runner      *Runner
	Workers     int
	Concurrency int64
	Timeout     time.Duration
	Logger      *slog.Logger
	Metrics     ProcessorMetrics
}

// Processor pulls transcode jobs off the queue and runs them. Workers
// dequeue independently; a weighted semaphore caps how many encoder
// processes run at once even when the worker count is higher.
type Processor struct {
	queue   Queue
	runner  *Runner
	workers int
	timeout time.Duration
	logger  *slog.Logger
	metrics ProcessorMetrics
	slots   *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultTranscodeWorkers     = 2
	defaultTranscodeConcurrency = 2
)

func NewProcessor(cfg ProcessorConfig) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultTranscodeWorkers
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultTranscodeConcurrency
	}
	// No timeout unless the operator opts in; long encodes are normal
	// and killing them strands the entry in processing.
	timeout := cfg.Timeout
	if timeout < 0 {
		timeout = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		queue:    cfg.Queue,
		runner:   cfg.Runner,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
		metrics:  cfg.Metrics,
		slots:    semaphore.NewWeighted(concurrency),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]struct{}),
	}
}

func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Shutdown stops the workers and waits for in-flight jobs to finish or
// the context to expire. Jobs interrupted mid-encode are not redelivered:
// the queue hands each job out once, so the catalog entry stays flagged
// as processing until an operator deletes it and uploads again.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		job, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
				return
			}
			p.logger.Warn("dequeue failed", "error", err)
			continue
		}
		if strings.TrimSpace(job.StreamID) == "" {
			continue
		}
		if !p.beginWork(job.StreamID) {
			continue
		}
		p.process(job)
		p.finishWork(job.StreamID)
	}
}

func (p *Processor) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Processor) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

func (p *Processor) jobContext() (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(p.ctx, p.timeout)
	}
	return context.WithCancel(p.ctx)
}

func (p *Processor) process(job TranscodeJob) {
	if err := p.slots.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.slots.Release(1)

	ctx, cancel := p.jobContext()
	defer cancel()

	if p.metrics != nil {
		p.metrics.TranscodeStarted()
	}
	start := time.Now()
	err := p.runner.Run(ctx, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		if p.metrics != nil {
			p.metrics.TranscodeFinished(OutcomeCompleted, elapsed)
		}
		p.logger.Info("transcode completed",
			"stream_id", job.StreamID,
			"video_id", job.VideoID,
			"title", job.Title,
			"duration", elapsed,
		)
	case errors.Is(err, context.Canceled):
		if p.metrics != nil {
			p.metrics.TranscodeFinished(OutcomeCancelled, elapsed)
		}
		p.logger.Warn("transcode cancelled", "stream_id", job.StreamID, "video_id", job.VideoID)
	default:
		if p.metrics != nil {
			p.metrics.TranscodeFinished(OutcomeFailed, elapsed)
		}
		p.logger.Error("transcode failed",
			"stream_id", job.StreamID,
			"video_id", job.VideoID,
			"title", job.Title,
			"error", err,
		)
	}
}

package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type recordingMetrics struct {
	mu       sync.Mutex
	started  int
	outcomes []string
}

func (m *recordingMetrics) TranscodeStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *recordingMetrics) TranscodeFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) snapshot() (int, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outcomes))
	copy(out, m.outcomes)
	return m.started, out
}

func TestProcessorRunsQueuedJobs(t *testing.T) {
	queue := NewMemoryQueue(8)
	t.Cleanup(func() { queue.Close() })

	var mu sync.Mutex
	seen := make(map[string]int)
	completed := make(chan string, 8)

	runner := NewRunner(discardLogger())
	runner.runCommand = func(ctx context.Context, job TranscodeJob, plan *transcodePlan, stderr io.Writer) error {
		mu.Lock()
		seen[job.StreamID]++
		mu.Unlock()
		completed <- job.StreamID
		if job.StreamID == "bad" {
			return errors.New("exit status 1")
		}
		return nil
	}

	metrics := &recordingMetrics{}
	processor := NewProcessor(ProcessorConfig{
		Queue:       queue,
		Runner:      runner,
		Workers:     3,
		Concurrency: 2,
		Timeout:     time.Second,
		Logger:      discardLogger(),
		Metrics:     metrics,
	})
	processor.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := processor.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	})

	ctx := context.Background()
	for _, id := range []string{"good-1", "good-2", "bad"} {
		job := queueJob(id)
		job.SourcePath = t.TempDir() + "/" + id + ".mp4"
		job.OutputDir = t.TempDir() + "/" + id
		if err := queue.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-completed:
		case <-deadline:
			t.Fatal("timed out waiting for jobs")
		}
	}

	// Give the outcome bookkeeping a moment to settle.
	waitUntil(t, time.Second, func() bool {
		started, outcomes := metrics.snapshot()
		return started == 3 && len(outcomes) == 3
	})

	started, outcomes := metrics.snapshot()
	if started != 3 {
		t.Fatalf("expected 3 started jobs, got %d", started)
	}
	failures := 0
	for _, outcome := range outcomes {
		if outcome == OutcomeFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one failed outcome, got %v", outcomes)
	}
	mu.Lock()
	defer mu.Unlock()
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s ran %d times", id, count)
		}
	}
}

func TestProcessorShutdownIdempotentStart(t *testing.T) {
	queue := NewMemoryQueue(1)
	t.Cleanup(func() { queue.Close() })
	processor := NewProcessor(ProcessorConfig{
		Queue:  queue,
		Runner: NewRunner(discardLogger()),
		Logger: discardLogger(),
	})
	processor.Start()
	processor.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := processor.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestProcessorJobContextDeadline(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Logger: discardLogger()})
	ctx, cancel := p.jobContext()
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("jobs must run without a deadline unless a timeout is configured")
	}

	bounded := NewProcessor(ProcessorConfig{Timeout: time.Minute, Logger: discardLogger()})
	ctx, cancel = bounded.jobContext()
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("configured timeout must set a deadline")
	}
	if remaining := time.Until(deadline); remaining > time.Minute {
		t.Fatalf("deadline further out than the configured timeout: %v", remaining)
	}
}

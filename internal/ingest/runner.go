package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

const defaultEncoderBinary = "ffmpeg"

// Runner executes transcode jobs by shelling out to the encoder. It is
// safe for concurrent use; each Run drives an independent process.
type Runner struct {
	encoder string
	logger  *slog.Logger

	// runCommand is swapped in tests to avoid spawning real processes.
	runCommand func(ctx context.Context, job TranscodeJob, plan *transcodePlan, stderr io.Writer) error
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithEncoderBinary overrides the encoder executable name or path.
func WithEncoderBinary(path string) RunnerOption {
	return func(r *Runner) {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			r.encoder = trimmed
		}
	}
}

func NewRunner(logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{encoder: defaultEncoderBinary, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	if r.runCommand == nil {
		r.runCommand = r.execCommand
	}
	return r
}

// Run transcodes the job's source into its HLS ladder and writes the
// master playlist once every rendition has been produced. The staged
// source file is deleted on every path, success or failure, so failed
// jobs do not accumulate temp files.
func (r *Runner) Run(ctx context.Context, job TranscodeJob) error {
	defer r.removeSource(job)

	if err := job.validate(); err != nil {
		return err
	}
	plan, err := buildTranscodePlan(job.SourcePath, job.OutputDir, job.Ladder)
	if err != nil {
		return fmt.Errorf("prepare transcode: %w", err)
	}

	var stderrTail tailBuffer
	if err := r.runCommand(ctx, job, plan, &stderrTail); err != nil {
		return classifyEncoderError(r.encoder, err, stderrTail.String())
	}

	if err := writeMasterPlaylist(plan.master, plan.ladder); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	return nil
}

func (r *Runner) execCommand(ctx context.Context, job TranscodeJob, plan *transcodePlan, stderrTail io.Writer) error {
	cmd := exec.CommandContext(ctx, r.encoder, plan.args...)
	cmd.Stdout = newEncoderLogWriter(r.logger, job.StreamID, "stdout")
	cmd.Stderr = io.MultiWriter(newEncoderLogWriter(r.logger, job.StreamID, "stderr"), stderrTail)
	return cmd.Run()
}

func (r *Runner) removeSource(job TranscodeJob) {
	if strings.TrimSpace(job.SourcePath) == "" {
		return
	}
	if err := os.Remove(job.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("failed to remove staged upload", "stream_id", job.StreamID, "path", job.SourcePath, "error", err)
	}
}

// classifyEncoderError distinguishes a missing encoder binary from a
// process that started and failed, attaching the stderr tail so the
// log line is actionable without re-running the job.
func classifyEncoderError(encoder string, err error, stderrTail string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("encoder %q not found in PATH: %w", encoder, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		tail := strings.TrimSpace(stderrTail)
		if tail != "" {
			return fmt.Errorf("encoder exited with code %d: %s", exitErr.ExitCode(), tail)
		}
		return fmt.Errorf("encoder exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("run encoder: %w", err)
}

// encoderLogWriter splits encoder output into individual log records.
type encoderLogWriter struct {
	logger *slog.Logger
	stream string
	pipe   string
}

func newEncoderLogWriter(logger *slog.Logger, streamID, pipe string) *encoderLogWriter {
	return &encoderLogWriter{logger: logger, stream: streamID, pipe: pipe}
}

func (w *encoderLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("encoder output", "stream_id", w.stream, "pipe", w.pipe, "line", string(line))
	}
	return total, nil
}

const tailBufferLimit = 4096

// tailBuffer retains the last few KiB written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailBufferLimit {
		t.buf = t.buf[len(t.buf)-tailBufferLimit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

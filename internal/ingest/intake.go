package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lanstream/internal/models"
	"lanstream/internal/storage"
)

// ErrInvalidUpload marks intake rejections caused by the caller's
// input rather than by the host; the API maps it to a client error.
var ErrInvalidUpload = errors.New("invalid upload")

// IntakeConfig wires upload intake to its collaborators. UploadDir
// stages raw files until a worker consumes them; StreamDir is the root
// the HTTP layer serves under /streams/.
type IntakeConfig struct {
	Store     storage.Repository
	Queue     Queue
	UploadDir string
	StreamDir string
	Ladder    []Rendition
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Intake accepts raw uploads, registers them in the catalog as
// processing, and hands the transcode work to the queue.
type Intake struct {
	store     storage.Repository
	queue     Queue
	uploadDir string
	streamDir string
	ladder    []Rendition
	logger    *slog.Logger
	now       func() time.Time
}

func NewIntake(cfg IntakeConfig) (*Intake, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if strings.TrimSpace(cfg.StreamDir) == "" {
		return nil, fmt.Errorf("stream directory is required")
	}
	ladder := cloneLadder(cfg.Ladder)
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	if err := validateLadder(ladder); err != nil {
		return nil, err
	}
	uploadDir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	streamDir, err := filepath.Abs(cfg.StreamDir)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{uploadDir, streamDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare %s: %w", dir, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Intake{
		store:     cfg.Store,
		queue:     cfg.Queue,
		uploadDir: uploadDir,
		streamDir: streamDir,
		ladder:    ladder,
		logger:    logger,
		now:       now,
	}, nil
}

// StreamDir reports the root directory HLS output is written under.
func (i *Intake) StreamDir() string {
	return i.streamDir
}

// Accept stages the uploaded file, records a processing catalog entry
// whose link points at the manifest the transcode will eventually
// produce, and enqueues the job. The returned entry is what the API
// responds with; the heavy work happens in the background.
func (i *Intake) Accept(ctx context.Context, title, filename string, file io.Reader) (models.VideoEntry, error) {
	if strings.TrimSpace(title) == "" {
		return models.VideoEntry{}, fmt.Errorf("%w: title is required", ErrInvalidUpload)
	}
	if file == nil {
		return models.VideoEntry{}, fmt.Errorf("%w: video file is required", ErrInvalidUpload)
	}

	streamID := i.newStreamID()
	sourcePath := filepath.Join(i.uploadDir, streamID+"-"+sanitizeFilename(filename))
	if err := stageFile(sourcePath, file); err != nil {
		return models.VideoEntry{}, fmt.Errorf("stage upload: %w", err)
	}

	outputDir := filepath.Join(i.streamDir, streamID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		os.Remove(sourcePath)
		return models.VideoEntry{}, fmt.Errorf("prepare output directory: %w", err)
	}

	entry, err := i.store.AppendVideo(storage.CreateVideoParams{
		Title:      title,
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink(streamID),
		Processing: true,
	})
	if err != nil {
		os.Remove(sourcePath)
		os.RemoveAll(outputDir)
		return models.VideoEntry{}, err
	}

	job := TranscodeJob{
		StreamID:   streamID,
		VideoID:    entry.ID,
		Title:      entry.Title,
		SourcePath: sourcePath,
		OutputDir:  outputDir,
		Ladder:     cloneLadder(i.ladder),
		EnqueuedAt: i.now().UTC(),
	}
	if err := i.queue.Enqueue(ctx, job); err != nil {
		// The entry stays flagged as processing; the operator can
		// delete it or requeue once the queue is healthy again.
		i.logger.Error("failed to enqueue transcode job",
			"stream_id", streamID,
			"video_id", entry.ID,
			"error", err,
		)
		return entry, nil
	}

	i.logger.Info("upload accepted",
		"stream_id", streamID,
		"video_id", entry.ID,
		"title", entry.Title,
		"source", filepath.Base(sourcePath),
	)
	return entry, nil
}

func (i *Intake) newStreamID() string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("%d", i.now().UnixMilli())
	}
	return fmt.Sprintf("%d-%s", i.now().UnixMilli(), hex.EncodeToString(suffix))
}

func stageFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// sanitizeFilename keeps letters, digits, dots, and hyphens; every
// other byte becomes an underscore. Combined with the stream ID prefix
// this keeps staged files unique and shell-safe.
func sanitizeFilename(name string) string {
	trimmed := strings.TrimSpace(filepath.Base(name))
	if trimmed == "" || trimmed == "." || trimmed == string(filepath.Separator) {
		return "upload"
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ManifestLink is the catalog link for an upload's master playlist,
// relative to the HTTP root.
func ManifestLink(streamID string) string {
	return "/streams/" + streamID + "/" + MasterManifestName
}

// StreamIDFromLink recovers the stream ID from a catalog manifest
// link. It returns false for links that were not minted by
// ManifestLink.
func StreamIDFromLink(link string) (string, bool) {
	trimmed := strings.TrimSpace(link)
	if !strings.HasPrefix(trimmed, "/streams/") {
		return "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 4 || parts[3] != MasterManifestName {
		return "", false
	}
	id := parts[2]
	if id == "" || strings.Contains(id, "..") {
		return "", false
	}
	return id, true
}

package ingest

import (
	"log/slog"
	"os"
	"path/filepath"

	"lanstream/internal/models"
	"lanstream/internal/storage"
)

// Reconciler clears the processing flag on catalog entries whose
// master playlist has appeared on disk. It runs opportunistically on
// catalog reads so the flag converges without a dedicated poller.
type Reconciler struct {
	store     storage.Repository
	streamDir string
	logger    *slog.Logger
}

func NewReconciler(store storage.Repository, streamDir string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, streamDir: streamDir, logger: logger}
}

// Apply inspects the given catalog snapshot and clears the processing
// flag for every entry whose manifest exists. Persistence goes through
// ClearProcessing, which re-reads the catalog under the store's write
// lock and flips only the affected IDs, so entries appended after the
// snapshot was taken survive. The returned slice reflects the cleared
// flags even when persistence fails, so callers always serve the
// freshest view.
func (r *Reconciler) Apply(videos []models.VideoEntry) []models.VideoEntry {
	var cleared []int64
	for i := range videos {
		if !videos[i].Processing {
			continue
		}
		streamID, ok := StreamIDFromLink(videos[i].Link)
		if !ok {
			continue
		}
		if !r.manifestExists(streamID) {
			continue
		}
		videos[i].Processing = false
		cleared = append(cleared, videos[i].ID)
		r.logger.Info("transcode output ready", "stream_id", streamID, "video_id", videos[i].ID)
	}
	if len(cleared) > 0 {
		if err := r.store.ClearProcessing(cleared); err != nil {
			r.logger.Error("failed to persist reconciled entries", "error", err)
		}
	}
	return videos
}

// ApplyOne reconciles a single entry on a per-video read, so a source
// lookup does not report an entry as processing after its manifest has
// landed just because nobody listed the catalog in between.
func (r *Reconciler) ApplyOne(video models.VideoEntry) models.VideoEntry {
	if !video.Processing {
		return video
	}
	streamID, ok := StreamIDFromLink(video.Link)
	if !ok || !r.manifestExists(streamID) {
		return video
	}
	video.Processing = false
	r.logger.Info("transcode output ready", "stream_id", streamID, "video_id", video.ID)
	if err := r.store.ClearProcessing([]int64{video.ID}); err != nil {
		r.logger.Error("failed to persist reconciled entry", "error", err, "video_id", video.ID)
	}
	return video
}

func (r *Reconciler) manifestExists(streamID string) bool {
	info, err := os.Stat(filepath.Join(r.streamDir, streamID, MasterManifestName))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

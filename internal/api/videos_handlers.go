package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lanstream/internal/ingest"
	"lanstream/internal/models"
	"lanstream/internal/playback"
	"lanstream/internal/storage"
)

type createVideoRequest struct {
	Title        string `json:"title"`
	Type         string `json:"type"`
	Link         string `json:"link"`
	SignalingURL string `json:"signalingUrl"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Thumbnail    string `json:"thumbnail"`
	Summary      string `json:"summary"`
}

type updateVideoRequest struct {
	Title        *string `json:"title"`
	Link         *string `json:"link"`
	SignalingURL *string `json:"signalingUrl"`
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	Thumbnail    *string `json:"thumbnail"`
	Summary      *string `json:"summary"`
}

// Videos handles /api/videos: GET returns the reconciled catalog,
// POST registers a non-upload entry (external link, camera, WebRTC).
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listVideos(w, r)
	case http.MethodPost:
		h.createVideo(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (h *Handler) listVideos(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	videos, err := h.Store.ListVideos()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read catalog"))
		return
	}
	// Reading the catalog is what flips finished transcodes from
	// processing to playable.
	if h.Reconciler != nil {
		videos = h.Reconciler.Apply(videos)
	}
	writeJSON(w, http.StatusOK, videos)
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, roleAdmin, roleEditor); !ok {
		return
	}
	var req createVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload"))
		return
	}
	videoType := models.VideoType(strings.TrimSpace(req.Type))
	if videoType == models.VideoTypeUpload {
		writeError(w, http.StatusBadRequest, fmt.Errorf("uploads go through /api/videos/upload"))
		return
	}
	entry, err := h.Store.AppendVideo(storage.CreateVideoParams{
		Title:        req.Title,
		Type:         videoType,
		Link:         strings.TrimSpace(req.Link),
		SignalingURL: strings.TrimSpace(req.SignalingURL),
		Username:     req.Username,
		Password:     req.Password,
		Thumbnail:    strings.TrimSpace(req.Thumbnail),
		Summary:      req.Summary,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.logger().Info("catalog entry created", "video_id", entry.ID, "type", entry.Type)
	writeJSON(w, http.StatusCreated, entry)
}

// VideoByID handles /api/videos/{id} and /api/videos/{id}/source.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid video id"))
		return
	}
	switch {
	case len(parts) == 1:
		h.videoByID(w, r, id)
	case len(parts) == 2 && parts[1] == "source":
		h.videoSource(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) videoByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		entry, found := h.Store.GetVideo(id)
		if !found {
			writeError(w, http.StatusNotFound, storage.ErrVideoNotFound)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPut:
		if _, ok := h.requireRole(w, r, roleAdmin, roleEditor); !ok {
			return
		}
		var req updateVideoRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload"))
			return
		}
		entry, err := h.Store.UpdateVideo(id, storage.VideoUpdate{
			Title:        req.Title,
			Link:         req.Link,
			SignalingURL: req.SignalingURL,
			Username:     req.Username,
			Password:     req.Password,
			Thumbnail:    req.Thumbnail,
			Summary:      req.Summary,
		})
		if err != nil {
			h.writeVideoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin, roleEditor); !ok {
			return
		}
		entry, found := h.Store.GetVideo(id)
		if !found {
			writeError(w, http.StatusNotFound, storage.ErrVideoNotFound)
			return
		}
		if err := h.Store.DeleteVideo(id); err != nil {
			h.writeVideoError(w, err)
			return
		}
		h.removeStreamOutput(entry)
		h.logger().Info("catalog entry deleted", "video_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// removeStreamOutput deletes an upload's HLS directory when its
// catalog entry goes away. Best effort: a failure leaves orphaned
// segments but never blocks the delete.
func (h *Handler) removeStreamOutput(entry models.VideoEntry) {
	if h.Intake == nil || entry.Type != models.VideoTypeUpload {
		return
	}
	streamID, ok := ingest.StreamIDFromLink(entry.Link)
	if !ok {
		return
	}
	dir := filepath.Join(h.Intake.StreamDir(), streamID)
	if err := os.RemoveAll(dir); err != nil {
		h.logger().Warn("failed to remove stream output", "stream_id", streamID, "error", err)
	}
}

type sourceResponse struct {
	Strategy     string `json:"strategy"`
	URL          string `json:"url,omitempty"`
	HLS          bool   `json:"hls,omitempty"`
	EmbedURL     string `json:"embedUrl,omitempty"`
	VideoID      string `json:"videoId,omitempty"`
	SignalingURL string `json:"signalingUrl,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Processing   bool   `json:"processing,omitempty"`
}

func (h *Handler) videoSource(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	entry, found := h.Store.GetVideo(id)
	if !found {
		writeError(w, http.StatusNotFound, storage.ErrVideoNotFound)
		return
	}
	if h.Reconciler != nil {
		entry = h.Reconciler.ApplyOne(entry)
	}
	src := playback.Classify(entry)
	writeJSON(w, http.StatusOK, sourceResponse{
		Strategy:     string(src.Strategy),
		URL:          src.URL,
		HLS:          src.HLS,
		EmbedURL:     src.EmbedURL,
		VideoID:      src.VideoID,
		SignalingURL: src.SignalingURL,
		Username:     src.Username,
		Password:     src.Password,
		Processing:   entry.Processing,
	})
}

func (h *Handler) writeVideoError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrVideoNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

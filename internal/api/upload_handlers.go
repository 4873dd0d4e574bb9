package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lanstream/internal/ingest"
)

// maxUploadMemory bounds how much of a multipart body stays in memory
// before spilling to temp files; the payload itself is streamed.
const maxUploadMemory = 32 << 20

// Upload handles POST /api/videos/upload: multipart form with a text
// field "title" and a binary field "video". The response carries the
// freshly created catalog entry, still flagged processing, while the
// transcode continues in the background.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin, roleEditor); !ok {
		return
	}
	if h.Intake == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("upload intake unavailable"))
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video file is required"))
		return
	}
	defer file.Close()

	entry, err := h.Intake.Accept(r.Context(), title, header.Filename, file)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidUpload) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger().Error("upload intake failed", "title", title, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("upload failed"))
		return
	}
	if h.Metrics != nil {
		h.Metrics.UploadReceived()
	}
	writeJSON(w, http.StatusCreated, entry)
}

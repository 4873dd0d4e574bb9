package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"lanstream/internal/ingest"
	"lanstream/internal/models"
)

func TestVideosRequireAuthentication(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodGet, "/api/videos", nil, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d, want 401", rec.Code)
	}
}

func TestCreateVideoEntry(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{
		"title": "All hands recording",
		"type":  "link",
		"link":  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodPost, "/api/videos", body, &env.editor))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var entry models.VideoEntry
	decodeBody(t, rec, &entry)
	if entry.ID == 0 || entry.Title != "All hands recording" || entry.Type != models.VideoTypeLink {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Processing {
		t.Fatal("link entries must not be flagged processing")
	}
}

func TestCreateVideoRejectsUploadType(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{"title": "clip", "type": "upload"})
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodPost, "/api/videos", body, &env.admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateVideoForbiddenForViewer(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{"title": "clip", "type": "link", "link": "https://example.test/v.mp4"})
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodPost, "/api/videos", body, &env.viewer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestListVideosReconcilesFinishedTranscodes(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.handler.Intake.Accept(context.Background(), "Town hall", "town-hall.mp4", strings.NewReader("video bytes"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !entry.Processing {
		t.Fatal("fresh upload should be processing")
	}
	streamID, ok := ingest.StreamIDFromLink(entry.Link)
	if !ok {
		t.Fatalf("entry link %q has no stream id", entry.Link)
	}

	// Before the manifest exists the flag stays set.
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodGet, "/api/videos", nil, &env.viewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []models.VideoEntry
	decodeBody(t, rec, &listed)
	if len(listed) != 1 || !listed[0].Processing {
		t.Fatalf("expected one processing entry, got %+v", listed)
	}

	manifest := filepath.Join(env.handler.Intake.StreamDir(), streamID, ingest.MasterManifestName)
	if err := os.WriteFile(manifest, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	rec = httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodGet, "/api/videos", nil, &env.viewer))
	listed = nil
	decodeBody(t, rec, &listed)
	if len(listed) != 1 || listed[0].Processing {
		t.Fatalf("expected reconciled entry, got %+v", listed)
	}

	// The cleared flag is persisted, not just reflected in the response.
	stored, found := env.store.GetVideo(entry.ID)
	if !found {
		t.Fatal("entry missing from store")
	}
	if stored.Processing {
		t.Fatal("processing flag not persisted as cleared")
	}
}

func TestVideoByIDLifecycle(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{"title": "Camera feed", "type": "ipcam", "link": "http://10.0.0.5:8080/video"})
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodPost, "/api/videos", body, &env.admin))
	var entry models.VideoEntry
	decodeBody(t, rec, &entry)

	path := "/api/videos/" + itoa(entry.ID)

	rec = httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodGet, path, nil, &env.viewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}

	update := jsonBody(t, map[string]string{"title": "Lobby camera"})
	rec = httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodPut, path, update, &env.editor))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated models.VideoEntry
	decodeBody(t, rec, &updated)
	if updated.Title != "Lobby camera" {
		t.Fatalf("title = %q after update", updated.Title)
	}
	if updated.Link != entry.Link {
		t.Fatal("unrelated field changed by partial update")
	}

	rec = httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodDelete, path, nil, &env.admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodGet, path, nil, &env.viewer))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestVideoByIDRejectsBadID(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodGet, "/api/videos/not-a-number", nil, &env.viewer))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteUploadRemovesStreamOutput(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.handler.Intake.Accept(context.Background(), "Demo", "demo.mp4", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	streamID, _ := ingest.StreamIDFromLink(entry.Link)
	outputDir := filepath.Join(env.handler.Intake.StreamDir(), streamID)
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("output dir missing before delete: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodDelete, "/api/videos/"+itoa(entry.ID), nil, &env.admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Fatalf("output dir still present after delete: %v", err)
	}
}

func TestVideoSourceEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{
		"title": "Launch keynote",
		"type":  "link",
		"link":  "https://youtu.be/dQw4w9WgXcQ",
	})
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, env.request(http.MethodPost, "/api/videos", body, &env.admin))
	var entry models.VideoEntry
	decodeBody(t, rec, &entry)

	rec = httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodGet, "/api/videos/"+itoa(entry.ID)+"/source", nil, &env.viewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("source status = %d", rec.Code)
	}
	var src sourceResponse
	decodeBody(t, rec, &src)
	if src.Strategy != "embed" {
		t.Fatalf("strategy = %q, want embed", src.Strategy)
	}
	if src.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("video id = %q", src.VideoID)
	}
	if !strings.Contains(src.EmbedURL, "autoplay=1") {
		t.Fatalf("embed url = %q", src.EmbedURL)
	}
}

func TestVideoSourceReportsProcessingUpload(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.handler.Intake.Accept(context.Background(), "Merge recording", "merge.mp4", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodGet, "/api/videos/"+itoa(entry.ID)+"/source", nil, &env.viewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("source status = %d", rec.Code)
	}
	var src sourceResponse
	decodeBody(t, rec, &src)
	if src.Strategy != "adaptive" || !src.HLS {
		t.Fatalf("upload source = %+v, want adaptive HLS", src)
	}
	if !src.Processing {
		t.Fatal("source must report the processing flag")
	}
}

func TestVideoSourceReconcilesFinishedTranscode(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.handler.Intake.Accept(context.Background(), "All hands", "all-hands.mp4", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	streamID, ok := ingest.StreamIDFromLink(entry.Link)
	if !ok {
		t.Fatalf("entry link %q has no stream id", entry.Link)
	}
	manifest := filepath.Join(env.handler.Intake.StreamDir(), streamID, ingest.MasterManifestName)
	if err := os.WriteFile(manifest, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	// A direct source read must notice the finished transcode even
	// when nobody has listed the catalog since.
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, env.request(http.MethodGet, "/api/videos/"+itoa(entry.ID)+"/source", nil, &env.viewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("source status = %d", rec.Code)
	}
	var src sourceResponse
	decodeBody(t, rec, &src)
	if src.Processing {
		t.Fatal("source must clear processing once the manifest exists")
	}
	stored, found := env.store.GetVideo(entry.ID)
	if !found {
		t.Fatal("entry missing from store")
	}
	if stored.Processing {
		t.Fatal("processing flag not persisted as cleared")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lanstream/internal/api"
	"lanstream/internal/auth"
	"lanstream/internal/ingest"
	"lanstream/internal/storage"
)

type serverFixture struct {
	handler http.Handler
	store   storage.Repository
}

func newServerFixture(t *testing.T, cfg Config) *serverFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewJSONRepository(filepath.Join(dir, "catalog.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	if _, err := store.CreateUser(storage.CreateUserParams{
		Name:     "Alice Admin",
		Username: "alice",
		Password: "alice-password",
		Role:     "admin",
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := ingest.NewMemoryQueue(8)
	intake, err := ingest.NewIntake(ingest.IntakeConfig{
		Store:     store,
		Queue:     queue,
		UploadDir: filepath.Join(dir, "uploads"),
		StreamDir: filepath.Join(dir, "streams"),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewIntake: %v", err)
	}
	handler := &api.Handler{
		Store:      store,
		Sessions:   auth.NewManager(time.Hour),
		Intake:     intake,
		Reconciler: ingest.NewReconciler(store, intake.StreamDir(), logger),
		Logger:     logger,
	}
	if cfg.StreamDir == "" {
		cfg.StreamDir = intake.StreamDir()
	}
	cfg.Logger = logger
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &serverFixture{handler: srv.Handler(), store: store}
}

func (f *serverFixture) login(t *testing.T) string {
	t.Helper()
	body := strings.NewReader(`{"username":"alice","password":"alice-password"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty session token")
	}
	return resp.Token
}

func TestAPIRoutesRequireSession(t *testing.T) {
	fixture := newServerFixture(t, Config{})

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /api/videos status = %d, want 401", rec.Code)
	}

	// Health and metrics stay open.
	for _, path := range []string{"/healthz", "/metrics"} {
		rec = httptest.NewRecorder()
		fixture.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestLoginThenListVideos(t *testing.T) {
	fixture := newServerFixture(t, Config{})
	token := fixture.login(t)

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized list status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var videos []json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&videos); err != nil {
		t.Fatalf("decode videos: %v", err)
	}
	if len(videos) != 0 {
		t.Fatalf("expected empty catalog, got %d entries", len(videos))
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	fixture := newServerFixture(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", "Bearer bogus-token")
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token status = %d, want 401", rec.Code)
	}
}

func TestStreamFileServer(t *testing.T) {
	dir := t.TempDir()
	streamDir := filepath.Join(dir, "streams")
	if err := os.MkdirAll(filepath.Join(streamDir, "abc-123"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := filepath.Join(streamDir, "abc-123", "master.m3u8")
	if err := os.WriteFile(manifest, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	fixture := newServerFixture(t, Config{StreamDir: streamDir})

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams/abc-123/master.m3u8", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("manifest status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.apple.mpegurl" {
		t.Fatalf("manifest content type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("manifest cache control = %q", got)
	}
	if rec.Body.String() != "#EXTM3U\n" {
		t.Fatalf("manifest body = %q", rec.Body.String())
	}

	// Directory listings are refused.
	rec = httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams/abc-123/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory listing status = %d, want 404", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	fixture := newServerFixture(t, Config{})

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("response missing generated X-Request-Id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("X-Request-Id = %q, want caller-supplied", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	fixture := newServerFixture(t, Config{})

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	expectations := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range expectations {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "media-src 'self' blob:") {
		t.Fatalf("CSP missing media-src directive: %q", csp)
	}
}

func TestLoginRateLimit(t *testing.T) {
	fixture := newServerFixture(t, Config{
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})

	attempt := func() int {
		body := strings.NewReader(`{"username":"alice","password":"wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.10:4567"
		rec := httptest.NewRecorder()
		fixture.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := attempt(); code != http.StatusUnauthorized {
		t.Fatalf("first attempt status = %d, want 401", code)
	}
	if code := attempt(); code != http.StatusUnauthorized {
		t.Fatalf("second attempt status = %d, want 401", code)
	}
	if code := attempt(); code != http.StatusTooManyRequests {
		t.Fatalf("third attempt status = %d, want 429", code)
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	fixture := newServerFixture(t, Config{
		CORS: CORSConfig{AllowedOrigins: []string{"http://intranet.example"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign origin status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://intranet.example")
	rec = httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed origin status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://intranet.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

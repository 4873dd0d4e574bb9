package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lanstream/internal/models"
	"lanstream/internal/storage"
)

func newTestStore(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return repo
}

func newTestIntake(t *testing.T, store storage.Repository, queue Queue) *Intake {
	t.Helper()
	base := t.TempDir()
	intake, err := NewIntake(IntakeConfig{
		Store:     store,
		Queue:     queue,
		UploadDir: filepath.Join(base, "uploads"),
		StreamDir: filepath.Join(base, "streams"),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("new intake: %v", err)
	}
	return intake
}

func TestIntakeAccept(t *testing.T) {
	store := newTestStore(t)
	queue := NewMemoryQueue(4)
	t.Cleanup(func() { queue.Close() })
	intake := newTestIntake(t, store, queue)

	entry, err := intake.Accept(context.Background(), "Launch Recap", "launch recap (final).mp4", strings.NewReader("fake video bytes"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !entry.Processing {
		t.Fatal("entry must be flagged processing until the transcode completes")
	}
	if entry.Type != models.VideoTypeUpload {
		t.Fatalf("unexpected type %q", entry.Type)
	}
	streamID, ok := StreamIDFromLink(entry.Link)
	if !ok {
		t.Fatalf("entry link %q is not a manifest link", entry.Link)
	}

	job, err := queue.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job.StreamID != streamID {
		t.Fatalf("job stream id %q, want %q", job.StreamID, streamID)
	}
	if job.VideoID != entry.ID {
		t.Fatalf("job video id %d, want %d", job.VideoID, entry.ID)
	}
	if len(job.Ladder) != len(DefaultLadder()) {
		t.Fatalf("job carries %d renditions, want %d", len(job.Ladder), len(DefaultLadder()))
	}

	data, err := os.ReadFile(job.SourcePath)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "fake video bytes" {
		t.Fatalf("staged file content mismatch: %q", string(data))
	}
	if base := filepath.Base(job.SourcePath); strings.ContainsAny(base, " ()") {
		t.Fatalf("staged filename not sanitized: %q", base)
	}
	info, err := os.Stat(job.OutputDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("output directory missing: %v", err)
	}

	// The catalog sees the entry immediately, still processing.
	videos, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list videos: %v", err)
	}
	if len(videos) != 1 || !videos[0].Processing {
		t.Fatalf("unexpected catalog state: %+v", videos)
	}
}

func TestIntakeAcceptValidation(t *testing.T) {
	store := newTestStore(t)
	queue := NewMemoryQueue(1)
	t.Cleanup(func() { queue.Close() })
	intake := newTestIntake(t, store, queue)

	if _, err := intake.Accept(context.Background(), "  ", "clip.mp4", strings.NewReader("x")); err == nil {
		t.Fatal("expected missing title to be rejected")
	}
	if _, err := intake.Accept(context.Background(), "Title", "clip.mp4", nil); err == nil {
		t.Fatal("expected missing file to be rejected")
	}
	videos, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list videos: %v", err)
	}
	if len(videos) != 0 {
		t.Fatalf("rejected uploads must not reach the catalog: %+v", videos)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"video.mp4", "video.mp4"},
		{"my clip (1).mp4", "my_clip__1_.mp4"},
		{"../../etc/passwd", "passwd"},
		{"späce.mp4", "sp_ce.mp4"},
		{"", "upload"},
		{"UPPER-case.MOV", "UPPER-case.MOV"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.input); got != tc.want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestStreamIDFromLink(t *testing.T) {
	cases := []struct {
		link string
		id   string
		ok   bool
	}{
		{"/streams/1693000000000-abc123/master.m3u8", "1693000000000-abc123", true},
		{"/streams/x/master.m3u8", "x", true},
		{"/streams/master.m3u8", "", false},
		{"/streams/a/b/master.m3u8", "", false},
		{"/streams/../master.m3u8", "", false},
		{"https://youtube.com/watch?v=abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		id, ok := StreamIDFromLink(tc.link)
		if ok != tc.ok || id != tc.id {
			t.Fatalf("StreamIDFromLink(%q) = (%q, %v), want (%q, %v)", tc.link, id, ok, tc.id, tc.ok)
		}
	}
}

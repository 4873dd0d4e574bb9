package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"lanstream/internal/models"
	"lanstream/internal/storage"
)

func TestReconcilerClearsFinishedEntries(t *testing.T) {
	store := newTestStore(t)
	streamDir := t.TempDir()

	done, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "finished",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000000-aaaaaa"),
		Processing: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	pending, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "still encoding",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000001-bbbbbb"),
		Processing: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	external, err := store.AppendVideo(storage.CreateVideoParams{
		Title: "external link",
		Type:  models.VideoTypeLink,
		Link:  "https://example.com/talk.m3u8",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	outDir := filepath.Join(streamDir, "1693000000000-aaaaaa")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := writeMasterPlaylist(filepath.Join(outDir, MasterManifestName), DefaultLadder()); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	reconciler := NewReconciler(store, streamDir, discardLogger())
	videos, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	videos = reconciler.Apply(videos)

	byID := make(map[int64]models.VideoEntry, len(videos))
	for _, v := range videos {
		byID[v.ID] = v
	}
	if byID[done.ID].Processing {
		t.Fatal("entry with manifest on disk should have processing cleared")
	}
	if !byID[pending.ID].Processing {
		t.Fatal("entry without manifest must stay processing")
	}
	if byID[external.ID].Processing {
		t.Fatal("external link entry must stay untouched")
	}

	// The cleared flag is persisted, not just served.
	persisted, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, v := range persisted {
		if v.ID == done.ID && v.Processing {
			t.Fatal("cleared flag was not persisted")
		}
	}
}

func TestReconcilerNoChangesNoPersist(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "encoding",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000002-cccccc"),
		Processing: true,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	reconciler := NewReconciler(store, t.TempDir(), discardLogger())
	videos, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	videos = reconciler.Apply(videos)
	if len(videos) != 1 || !videos[0].Processing {
		t.Fatalf("unexpected reconcile result: %+v", videos)
	}
}

func TestReconcilerIgnoresDirectoryManifest(t *testing.T) {
	store := newTestStore(t)
	streamDir := t.TempDir()
	if _, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "odd state",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000003-dddddd"),
		Processing: true,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// A directory where the manifest should be must not count as done.
	if err := os.MkdirAll(filepath.Join(streamDir, "1693000000003-dddddd", MasterManifestName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reconciler := NewReconciler(store, streamDir, discardLogger())
	videos, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	videos = reconciler.Apply(videos)
	if !videos[0].Processing {
		t.Fatal("directory in place of manifest must not clear the flag")
	}
}

func TestReconcilerPreservesConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	streamDir := t.TempDir()

	done, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "finished",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000010-eeeeee"),
		Processing: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	outDir := filepath.Join(streamDir, "1693000000010-eeeeee")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := writeMasterPlaylist(filepath.Join(outDir, MasterManifestName), DefaultLadder()); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	snapshot, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// A second upload lands between the catalog read and the reconcile.
	late, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "late arrival",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000011-ffffff"),
		Processing: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	reconciler := NewReconciler(store, streamDir, discardLogger())
	reconciler.Apply(snapshot)

	persisted, err := store.ListVideos()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byID := make(map[int64]models.VideoEntry, len(persisted))
	for _, v := range persisted {
		byID[v.ID] = v
	}
	if len(persisted) != 2 {
		t.Fatalf("expected both entries to survive, got %d", len(persisted))
	}
	if byID[done.ID].Processing {
		t.Fatal("finished entry should have processing cleared")
	}
	lateEntry, ok := byID[late.ID]
	if !ok {
		t.Fatal("entry appended during reconcile was erased")
	}
	if !lateEntry.Processing {
		t.Fatal("late entry must stay processing")
	}
}

func TestReconcilerApplyOne(t *testing.T) {
	store := newTestStore(t)
	streamDir := t.TempDir()

	entry, err := store.AppendVideo(storage.CreateVideoParams{
		Title:      "single read",
		Type:       models.VideoTypeUpload,
		Link:       ManifestLink("1693000000012-abcdef"),
		Processing: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	reconciler := NewReconciler(store, streamDir, discardLogger())

	got := reconciler.ApplyOne(entry)
	if !got.Processing {
		t.Fatal("entry without manifest must stay processing")
	}

	outDir := filepath.Join(streamDir, "1693000000012-abcdef")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := writeMasterPlaylist(filepath.Join(outDir, MasterManifestName), DefaultLadder()); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	got = reconciler.ApplyOne(entry)
	if got.Processing {
		t.Fatal("entry with manifest on disk should have processing cleared")
	}
	persisted, ok := store.GetVideo(entry.ID)
	if !ok {
		t.Fatal("entry disappeared from catalog")
	}
	if persisted.Processing {
		t.Fatal("cleared flag was not persisted")
	}
}

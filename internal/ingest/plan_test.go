package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildTranscodePlanArguments(t *testing.T) {
	dir := t.TempDir()
	ladder := DefaultLadder()
	plan, err := buildTranscodePlan("/tmp/source.mp4", dir, ladder)
	if err != nil {
		t.Fatalf("buildTranscodePlan: %v", err)
	}
	if plan.args[0] != "-hide_banner" {
		t.Fatalf("expected -hide_banner first, got %q", plan.args[0])
	}
	joined := strings.Join(plan.args, " ")
	if !strings.Contains(joined, "-i /tmp/source.mp4") {
		t.Fatalf("input missing from args: %s", joined)
	}
	for _, r := range ladder {
		filter := fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", r.Width, r.Height, r.Width, r.Height)
		if !strings.Contains(joined, filter) {
			t.Fatalf("rendition %s: filter missing from args", r.Name)
		}
		if !strings.Contains(joined, "-b:v "+r.VideoBitrate) {
			t.Fatalf("rendition %s: video bitrate missing", r.Name)
		}
		if !strings.Contains(joined, "-maxrate "+r.MaxRate) {
			t.Fatalf("rendition %s: maxrate missing", r.Name)
		}
		if !strings.Contains(joined, "-bufsize "+r.BufSize) {
			t.Fatalf("rendition %s: bufsize missing", r.Name)
		}
		if !strings.HasSuffix(plan.args[len(plan.args)-1], ".m3u8") {
			t.Fatalf("expected final argument to be a playlist, got %q", plan.args[len(plan.args)-1])
		}
		if !strings.Contains(joined, r.Name+"_%03d.ts") {
			t.Fatalf("rendition %s: segment pattern missing", r.Name)
		}
	}
	// The VOD settings apply to every output group.
	if got := strings.Count(joined, "-hls_playlist_type vod"); got != len(ladder) {
		t.Fatalf("expected %d vod playlist flags, got %d", len(ladder), got)
	}
	if got := strings.Count(joined, "-hls_time 10"); got != len(ladder) {
		t.Fatalf("expected %d hls_time flags, got %d", len(ladder), got)
	}
}

func TestBuildTranscodePlanCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "12345-abc")
	if _, err := buildTranscodePlan("in.mp4", dir, DefaultLadder()); err != nil {
		t.Fatalf("buildTranscodePlan: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat output dir: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected output path to be a directory")
	}
}

func TestBuildTranscodePlanValidation(t *testing.T) {
	if _, err := buildTranscodePlan("", t.TempDir(), DefaultLadder()); err == nil {
		t.Fatal("expected missing input to be rejected")
	}
	if _, err := buildTranscodePlan("in.mp4", "", DefaultLadder()); err == nil {
		t.Fatal("expected missing output dir to be rejected")
	}
	if _, err := buildTranscodePlan("in.mp4", t.TempDir(), nil); err == nil {
		t.Fatal("expected empty ladder to be rejected")
	}
}

func TestRenderMasterPlaylist(t *testing.T) {
	content, err := renderMasterPlaylist(DefaultLadder())
	if err != nil {
		t.Fatalf("renderMasterPlaylist: %v", err)
	}
	want := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n360p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1400000,RESOLUTION=842x480\n480p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720\n720p.m3u8\n"
	if content != want {
		t.Fatalf("master playlist mismatch:\n got: %q\nwant: %q", content, want)
	}
}

func TestWriteMasterPlaylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), MasterManifestName)
	if err := writeMasterPlaylist(path, DefaultLadder()); err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	if !strings.HasPrefix(string(data), "#EXTM3U\n") {
		t.Fatalf("playlist missing header: %q", string(data))
	}
	lines := strings.Count(string(data), "\n")
	if lines != 1+2*len(DefaultLadder()) {
		t.Fatalf("unexpected playlist line count %d", lines)
	}
}

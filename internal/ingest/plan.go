package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterManifestName is the playlist players request for an upload.
const MasterManifestName = "master.m3u8"

// transcodePlan is a fully prepared ffmpeg invocation: one process
// emits every rung of the ladder plus its segment files.
type transcodePlan struct {
	args      []string
	ladder    []Rendition
	outputDir string
	master    string
}

// buildTranscodePlan prepares the output directory and assembles the
// ffmpeg argument vector for a VOD transcode of input. Each rendition
// gets its own output group so a single invocation produces the whole
// ladder.
func buildTranscodePlan(input, outputDir string, ladder []Rendition) (*transcodePlan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input source is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := validateLadder(ladder); err != nil {
		return nil, err
	}
	absDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-y", "-i", input}
	for _, r := range ladder {
		filter := fmt.Sprintf(
			"scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
			r.Width, r.Height, r.Width, r.Height,
		)
		args = append(args,
			"-vf", filter,
			"-c:a", "aac",
			"-ar", "48000",
			"-c:v", "h264",
			"-profile:v", "main",
			"-crf", "20",
			"-sc_threshold", "0",
			"-g", "48",
			"-keyint_min", "48",
			"-b:v", r.VideoBitrate,
			"-maxrate", r.MaxRate,
			"-bufsize", r.BufSize,
			"-b:a", r.AudioBitrate,
			"-hls_time", "10",
			"-hls_playlist_type", "vod",
			"-hls_segment_filename", filepath.ToSlash(filepath.Join(absDir, r.Name+"_%03d.ts")),
			filepath.ToSlash(filepath.Join(absDir, r.Name+".m3u8")),
		)
	}

	return &transcodePlan{
		args:      args,
		ladder:    cloneLadder(ladder),
		outputDir: absDir,
		master:    filepath.Join(absDir, MasterManifestName),
	}, nil
}

// renderMasterPlaylist produces the top-level manifest advertising each
// rendition, ordered as the ladder is ordered (lowest rung first).
func renderMasterPlaylist(ladder []Rendition) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, r := range ladder {
		bandwidth, err := r.Bandwidth()
		if err != nil {
			return "", fmt.Errorf("rendition %s: %w", r.Name, err)
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n%s.m3u8\n", bandwidth, r.Width, r.Height, r.Name)
	}
	return b.String(), nil
}

func writeMasterPlaylist(path string, ladder []Rendition) error {
	content, err := renderMasterPlaylist(ladder)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "master-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

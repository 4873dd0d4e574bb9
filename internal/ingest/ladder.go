package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Rendition describes one rung of the adaptive-bitrate ladder. Bitrate
// fields use ffmpeg notation ("800k") so they can be passed straight
// through as arguments.
type Rendition struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate string `json:"videoBitrate"`
	MaxRate      string `json:"maxRate"`
	BufSize      string `json:"bufSize"`
	AudioBitrate string `json:"audioBitrate"`
}

// Bandwidth reports the rendition's target video bitrate in bits per
// second, as advertised in the master playlist.
func (r Rendition) Bandwidth() (int, error) {
	return parseBitrate(r.VideoBitrate)
}

func (r Rendition) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rendition name is required")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("rendition %s: dimensions must be positive", r.Name)
	}
	for _, rate := range []string{r.VideoBitrate, r.MaxRate, r.BufSize, r.AudioBitrate} {
		if _, err := parseBitrate(rate); err != nil {
			return fmt.Errorf("rendition %s: %w", r.Name, err)
		}
	}
	return nil
}

// DefaultLadder returns the stock three-rung ladder used for uploaded
// files. Callers receive a fresh slice and may mutate it freely.
func DefaultLadder() []Rendition {
	return []Rendition{
		{Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", MaxRate: "856k", BufSize: "1200k", AudioBitrate: "96k"},
		{Name: "480p", Width: 842, Height: 480, VideoBitrate: "1400k", MaxRate: "1498k", BufSize: "2100k", AudioBitrate: "128k"},
		{Name: "720p", Width: 1280, Height: 720, VideoBitrate: "2800k", MaxRate: "2996k", BufSize: "4200k", AudioBitrate: "128k"},
	}
}

func cloneLadder(src []Rendition) []Rendition {
	if len(src) == 0 {
		return nil
	}
	out := make([]Rendition, len(src))
	copy(out, src)
	return out
}

func validateLadder(ladder []Rendition) error {
	if len(ladder) == 0 {
		return fmt.Errorf("at least one rendition is required")
	}
	seen := make(map[string]struct{}, len(ladder))
	for _, r := range ladder {
		if err := r.validate(); err != nil {
			return err
		}
		name := strings.ToLower(strings.TrimSpace(r.Name))
		if _, dup := seen[name]; dup {
			return fmt.Errorf("rendition %s: duplicate name", r.Name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// parseBitrate converts ffmpeg rate notation ("800k", "2M", "96000")
// into bits per second.
func parseBitrate(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("bitrate is required")
	}
	multiplier := 1
	switch value[len(value)-1] {
	case 'k', 'K':
		multiplier = 1000
		value = value[:len(value)-1]
	case 'm', 'M':
		multiplier = 1000000
		value = value[:len(value)-1]
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bitrate %q", raw)
	}
	return n * multiplier, nil
}

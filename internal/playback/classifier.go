// Package playback classifies catalog entries into player strategies.
// Classification is pure: it inspects the entry and returns what the
// watch page needs, without touching disk or network.
package playback

import (
	"net"
	"net/url"
	"strings"

	"lanstream/internal/models"
)

// Strategy names the player a catalog entry resolves to.
type Strategy string

const (
	// StrategyEmbed plays through an external provider's iframe.
	StrategyEmbed Strategy = "embed"
	// StrategyImageStream refreshes a raw image resource, as served
	// by IP cameras.
	StrategyImageStream Strategy = "image-stream"
	// StrategyWebRTC negotiates a live session against a signaling
	// endpoint at watch time.
	StrategyWebRTC Strategy = "webrtc"
	// StrategyAdaptive attaches an HLS client or sets the media
	// element source directly, depending on Source.HLS.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyUnsupported marks entries that cannot be played; the
	// caller renders an explicit error state.
	StrategyUnsupported Strategy = "unsupported"
)

// Source is the resolved playback strategy plus the parameters the
// chosen player needs.
type Source struct {
	Strategy Strategy

	// URL is the media URL for adaptive and image-stream playback.
	URL string
	// HLS reports whether URL points at an HLS manifest.
	HLS bool

	// EmbedURL and VideoID are set for embed playback.
	EmbedURL string
	VideoID  string

	// Signaling parameters for WebRTC playback.
	SignalingURL string
	Username     string
	Password     string
}

const hlsManifestSuffix = ".m3u8"

// Classify resolves a catalog entry to its playback strategy. Decision
// order matters: embeds are recognised before the generic link
// handling, and the legacy fallback only applies to records without a
// type.
func Classify(entry models.VideoEntry) Source {
	link := strings.TrimSpace(entry.Link)
	switch entry.Type {
	case models.VideoTypeLink:
		if id, ok := youtubeVideoID(link); ok {
			return Source{
				Strategy: StrategyEmbed,
				EmbedURL: "https://www.youtube.com/embed/" + id + "?autoplay=1",
				VideoID:  id,
			}
		}
		return adaptiveSource(link)
	case models.VideoTypeIPCam:
		if link == "" {
			return Source{Strategy: StrategyUnsupported}
		}
		return Source{Strategy: StrategyImageStream, URL: link}
	case models.VideoTypeWebRTC:
		signaling := strings.TrimSpace(entry.SignalingURL)
		if signaling == "" {
			return Source{Strategy: StrategyUnsupported}
		}
		return Source{
			Strategy:     StrategyWebRTC,
			SignalingURL: signaling,
			Username:     entry.Username,
			Password:     entry.Password,
		}
	case models.VideoTypeUpload:
		return adaptiveSource(link)
	case "":
		return classifyLegacy(link)
	default:
		return Source{Strategy: StrategyUnsupported}
	}
}

func adaptiveSource(link string) Source {
	if link == "" {
		return Source{Strategy: StrategyUnsupported}
	}
	return Source{
		Strategy: StrategyAdaptive,
		URL:      link,
		HLS:      strings.HasSuffix(strings.ToLower(link), hlsManifestSuffix),
	}
}

// classifyLegacy handles records written before the type field
// existed. An IP-literal host with an explicit port serving something
// that is not a recognisable media file is assumed to be a camera;
// everything else plays directly.
func classifyLegacy(link string) Source {
	if link == "" {
		return Source{Strategy: StrategyUnsupported}
	}
	if u, err := url.Parse(link); err == nil {
		host := u.Hostname()
		if net.ParseIP(host) != nil && u.Port() != "" && !hasMediaExtension(u.Path) {
			return Source{Strategy: StrategyImageStream, URL: link}
		}
	}
	return adaptiveSource(link)
}

var mediaExtensions = []string{hlsManifestSuffix, ".mp4", ".webm", ".ogg", ".ogv", ".mov", ".mkv", ".ts"}

func hasMediaExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range mediaExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// youtubeVideoID extracts the canonical video id from the long
// watch-page form or the short-link form. Anything else is not an
// embeddable link.
func youtubeVideoID(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	switch host {
	case "youtube.com", "m.youtube.com":
		if u.Path != "/watch" {
			return "", false
		}
		id := strings.TrimSpace(u.Query().Get("v"))
		if id == "" {
			return "", false
		}
		return id, true
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if id == "" || strings.Contains(id, "/") {
			return "", false
		}
		return id, true
	default:
		return "", false
	}
}

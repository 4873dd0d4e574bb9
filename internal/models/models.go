package models

import (
	"strings"
	"time"
)

// VideoType discriminates the playback variants a catalog entry can carry.
type VideoType string

const (
	VideoTypeLink   VideoType = "link"
	VideoTypeUpload VideoType = "upload"
	VideoTypeIPCam  VideoType = "ipcam"
	VideoTypeWebRTC VideoType = "webrtc"
)

// PlaceholderThumbnail is used whenever an entry has no thumbnail of its own.
const PlaceholderThumbnail = "https://placehold.co/600x400.png"

// VideoEntry is one record in the video catalog. Which optional fields are
// meaningful depends on Type; Variant returns the typed view.
type VideoEntry struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Type         VideoType `json:"type,omitempty"`
	Link         string    `json:"link,omitempty"`
	SignalingURL string    `json:"signalingUrl,omitempty"`
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	Processing   bool      `json:"processing,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ThumbnailOrPlaceholder returns the entry thumbnail, falling back to the
// shared placeholder when empty or whitespace.
func (v VideoEntry) ThumbnailOrPlaceholder() string {
	if strings.TrimSpace(v.Thumbnail) == "" {
		return PlaceholderThumbnail
	}
	return v.Thumbnail
}

// LinkVideo is an external or direct-stream URL entry.
type LinkVideo struct {
	URL string
}

// UploadVideo points at a transcoded HLS manifest or a direct file produced
// by the upload pipeline.
type UploadVideo struct {
	ManifestOrFilePath string
	Processing         bool
}

// IPCamVideo is an HTTP endpoint serving a continuous image/byte stream.
type IPCamVideo struct {
	URL string
}

// WebRTCVideo identifies a signaling endpoint negotiated at watch time.
type WebRTCVideo struct {
	SignalingURL string
	Username     string
	Password     string
}

// Variant returns the tagged view of the entry for its declared type. The
// second result is false when the type is absent (legacy records) or unknown.
func (v VideoEntry) Variant() (interface{}, bool) {
	switch v.Type {
	case VideoTypeLink:
		return LinkVideo{URL: v.Link}, true
	case VideoTypeUpload:
		return UploadVideo{ManifestOrFilePath: v.Link, Processing: v.Processing}, true
	case VideoTypeIPCam:
		return IPCamVideo{URL: v.Link}, true
	case VideoTypeWebRTC:
		return WebRTCVideo{SignalingURL: v.SignalingURL, Username: v.Username, Password: v.Password}, true
	default:
		return nil, false
	}
}

// User is an account that can sign in and watch the catalog.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Username     string     `json:"username"`
	Role         string     `json:"role"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Expired reports whether the subscription expiry has passed.
func (u User) Expired(now time.Time) bool {
	return u.ExpiresAt != nil && now.After(*u.ExpiresAt)
}

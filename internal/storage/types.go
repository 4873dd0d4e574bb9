package storage

import (
	"errors"
	"sync"
	"time"

	"lanstream/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrVideoNotFound is returned when a catalog entry id does not exist.
	ErrVideoNotFound = errors.New("video not found")
	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")
)

type dataset struct {
	Videos []models.VideoEntry    `json:"videos"`
	Users  map[string]models.User `json:"users"`
}

// Storage is the JSON-file datastore. The whole document is read, mutated,
// and rewritten on every change; safe for a single process only.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	// lastVideoID guards timestamp-derived ids against same-millisecond creations.
	lastVideoID int64
	now         func() time.Time
}

// CreateVideoParams captures the attributes that can be set when registering
// a catalog entry.
type CreateVideoParams struct {
	Title        string
	Type         models.VideoType
	Link         string
	SignalingURL string
	Username     string
	Password     string
	Processing   bool
	Thumbnail    string
	Summary      string
}

// VideoUpdate describes the mutable fields of a catalog entry.
type VideoUpdate struct {
	Title        *string
	Type         *models.VideoType
	Link         *string
	SignalingURL *string
	Username     *string
	Password     *string
	Processing   *bool
	Thumbnail    *string
	Summary      *string
}

// CreateUserParams captures the attributes that can be set when creating a user.
type CreateUserParams struct {
	Name      string
	Username  string
	Password  string
	Role      string
	ExpiresAt *time.Time
}

// UserUpdate represents the fields that can be modified for an existing user.
type UserUpdate struct {
	Name      *string
	Username  *string
	Password  *string
	Role      *string
	ExpiresAt **time.Time
}

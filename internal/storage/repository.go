package storage

import (
	"context"

	"lanstream/internal/models"
)

// Repository exposes the datastore operations required by API handlers and
// the upload pipeline. Implementations follow a whole-document contract for
// the video catalog: ListVideos returns the current list, ReplaceVideos
// rewrites it atomically. Targeted mutations (AppendVideo, UpdateVideo,
// ClearProcessing, DeleteVideo) work against the current catalog, not a
// caller-held snapshot. The JSON driver assumes a single writing process;
// deployments with concurrent writers must use the Postgres driver.
type Repository interface {
	Ping(ctx context.Context) error

	ListVideos() ([]models.VideoEntry, error)
	GetVideo(id int64) (models.VideoEntry, bool)
	AppendVideo(params CreateVideoParams) (models.VideoEntry, error)
	UpdateVideo(id int64, update VideoUpdate) (models.VideoEntry, error)
	ReplaceVideos(videos []models.VideoEntry) error
	ClearProcessing(ids []int64) error
	DeleteVideo(id int64) error

	CreateUser(params CreateUserParams) (models.User, error)
	ListUsers() ([]models.User, error)
	GetUser(id string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	DeleteUser(id string) error
	AuthenticateUser(username, password string) (models.User, error)
}

var _ Repository = (*Storage)(nil)

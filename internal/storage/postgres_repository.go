package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lanstream/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS videos (
    id            BIGINT PRIMARY KEY,
    title         TEXT NOT NULL,
    type          TEXT NOT NULL,
    link          TEXT NOT NULL DEFAULT '',
    signaling_url TEXT NOT NULL DEFAULT '',
    username      TEXT NOT NULL DEFAULT '',
    password      TEXT NOT NULL DEFAULT '',
    processing    BOOLEAN NOT NULL DEFAULT FALSE,
    thumbnail     TEXT NOT NULL DEFAULT '',
    summary       TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    username      TEXT NOT NULL UNIQUE,
    role          TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    expires_at    TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL
);
`

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema idempotently.
func NewPostgresRepository(dsn string, opts ...PostgresOption) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const videoColumns = "id, title, type, link, signaling_url, username, password, processing, thumbnail, summary, created_at"

func scanVideo(row pgx.Row) (models.VideoEntry, error) {
	var video models.VideoEntry
	var videoType string
	err := row.Scan(&video.ID, &video.Title, &videoType, &video.Link, &video.SignalingURL,
		&video.Username, &video.Password, &video.Processing, &video.Thumbnail, &video.Summary, &video.CreatedAt)
	if err != nil {
		return models.VideoEntry{}, err
	}
	video.Type = models.VideoType(videoType)
	return video, nil
}

func (r *postgresRepository) ListVideos() ([]models.VideoEntry, error) {
	rows, err := r.pool.Query(context.Background(), "SELECT "+videoColumns+" FROM videos ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.VideoEntry, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func (r *postgresRepository) GetVideo(id int64) (models.VideoEntry, bool) {
	row := r.pool.QueryRow(context.Background(), "SELECT "+videoColumns+" FROM videos WHERE id = $1", id)
	video, err := scanVideo(row)
	if err != nil {
		return models.VideoEntry{}, false
	}
	return video, true
}

func (r *postgresRepository) AppendVideo(params CreateVideoParams) (models.VideoEntry, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.VideoEntry{}, errors.New("title is required")
	}
	if !validVideoType(params.Type) {
		return models.VideoEntry{}, fmt.Errorf("invalid video type %q", params.Type)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	entry := models.VideoEntry{
		Title:        title,
		Type:         params.Type,
		Link:         strings.TrimSpace(params.Link),
		SignalingURL: strings.TrimSpace(params.SignalingURL),
		Username:     strings.TrimSpace(params.Username),
		Password:     params.Password,
		Processing:   params.Processing,
		Thumbnail:    strings.TrimSpace(params.Thumbnail),
		Summary:      strings.TrimSpace(params.Summary),
		CreatedAt:    now,
	}

	// Timestamp-derived id; step past collisions from same-millisecond inserts.
	id := now.UnixMilli()
	for {
		tag, err := r.pool.Exec(ctx,
			`INSERT INTO videos (id, title, type, link, signaling_url, username, password, processing, thumbnail, summary, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			id, entry.Title, string(entry.Type), entry.Link, entry.SignalingURL,
			entry.Username, entry.Password, entry.Processing, entry.Thumbnail, entry.Summary, entry.CreatedAt)
		if err != nil {
			return models.VideoEntry{}, fmt.Errorf("insert video: %w", err)
		}
		if tag.RowsAffected() == 1 {
			entry.ID = id
			return entry, nil
		}
		id++
	}
}

func (r *postgresRepository) UpdateVideo(id int64, update VideoUpdate) (models.VideoEntry, error) {
	existing, ok := r.GetVideo(id)
	if !ok {
		return models.VideoEntry{}, fmt.Errorf("video %d: %w", id, ErrVideoNotFound)
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.VideoEntry{}, errors.New("title cannot be empty")
		}
		existing.Title = title
	}
	if update.Type != nil {
		if !validVideoType(*update.Type) {
			return models.VideoEntry{}, fmt.Errorf("invalid video type %q", *update.Type)
		}
		existing.Type = *update.Type
	}
	if update.Link != nil {
		existing.Link = strings.TrimSpace(*update.Link)
	}
	if update.SignalingURL != nil {
		existing.SignalingURL = strings.TrimSpace(*update.SignalingURL)
	}
	if update.Username != nil {
		existing.Username = strings.TrimSpace(*update.Username)
	}
	if update.Password != nil {
		existing.Password = *update.Password
	}
	if update.Processing != nil {
		existing.Processing = *update.Processing
	}
	if update.Thumbnail != nil {
		existing.Thumbnail = strings.TrimSpace(*update.Thumbnail)
	}
	if update.Summary != nil {
		existing.Summary = strings.TrimSpace(*update.Summary)
	}

	_, err := r.pool.Exec(context.Background(),
		`UPDATE videos SET title=$2, type=$3, link=$4, signaling_url=$5, username=$6, password=$7, processing=$8, thumbnail=$9, summary=$10 WHERE id=$1`,
		id, existing.Title, string(existing.Type), existing.Link, existing.SignalingURL,
		existing.Username, existing.Password, existing.Processing, existing.Thumbnail, existing.Summary)
	if err != nil {
		return models.VideoEntry{}, fmt.Errorf("update video: %w", err)
	}
	return existing, nil
}

func (r *postgresRepository) ReplaceVideos(videos []models.VideoEntry) error {
	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM videos"); err != nil {
		return fmt.Errorf("clear videos: %w", err)
	}
	for _, video := range videos {
		_, err := tx.Exec(ctx,
			`INSERT INTO videos (id, title, type, link, signaling_url, username, password, processing, thumbnail, summary, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			video.ID, video.Title, string(video.Type), video.Link, video.SignalingURL,
			video.Username, video.Password, video.Processing, video.Thumbnail, video.Summary, video.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert video %d: %w", video.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *postgresRepository) ClearProcessing(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(context.Background(),
		"UPDATE videos SET processing = FALSE WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("clear processing: %w", err)
	}
	return nil
}

func (r *postgresRepository) DeleteVideo(id int64) error {
	tag, err := r.pool.Exec(context.Background(), "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %d: %w", id, ErrVideoNotFound)
	}
	return nil
}

const userColumns = "id, name, username, role, password_hash, expires_at, created_at"

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Name, &user.Username, &user.Role, &user.PasswordHash, &user.ExpiresAt, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := normalizeUsername(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = username
	}
	role := strings.ToLower(strings.TrimSpace(params.Role))
	if role == "" {
		role = "viewer"
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{
		ID:           id,
		Name:         name,
		Username:     username,
		Role:         role,
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}
	if params.ExpiresAt != nil {
		expires := params.ExpiresAt.UTC()
		user.ExpiresAt = &expires
	}

	_, err = r.pool.Exec(context.Background(),
		`INSERT INTO users (id, name, username, role, password_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Name, user.Username, user.Role, user.PasswordHash, user.ExpiresAt, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, fmt.Errorf("username %s already in use", username)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) ListUsers() ([]models.User, error) {
	rows, err := r.pool.Query(context.Background(), "SELECT "+userColumns+" FROM users ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	row := r.pool.QueryRow(context.Background(), "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.User{}, errors.New("name cannot be empty")
		}
		user.Name = name
	}
	if update.Username != nil {
		username := normalizeUsername(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		user.Username = username
	}
	if update.Password != nil {
		if *update.Password == "" {
			return models.User{}, errors.New("password cannot be empty")
		}
		hashed, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hashed
	}
	if update.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*update.Role))
		if role == "" {
			role = "viewer"
		}
		user.Role = role
	}
	if update.ExpiresAt != nil {
		if *update.ExpiresAt == nil {
			user.ExpiresAt = nil
		} else {
			expires := (*update.ExpiresAt).UTC()
			user.ExpiresAt = &expires
		}
	}

	_, err := r.pool.Exec(context.Background(),
		`UPDATE users SET name=$2, username=$3, role=$4, password_hash=$5, expires_at=$6 WHERE id=$1`,
		id, user.Name, user.Username, user.Role, user.PasswordHash, user.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, fmt.Errorf("username %s already in use", user.Username)
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) DeleteUser(id string) error {
	tag, err := r.pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	return nil
}

func (r *postgresRepository) AuthenticateUser(username, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	row := r.pool.QueryRow(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE username = $1", normalizeUsername(username))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

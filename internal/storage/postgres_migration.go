package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"lanstream/internal/models"
)

// importSnapshot replays a JSON datastore snapshot into Postgres inside a
// single transaction. Rows that already exist are overwritten, so the import
// can be re-run after a partial failure.
func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres repository is not connected")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := importSnapshotUsers(ctx, tx, snapshot.Users); err != nil {
		return err
	}
	if err := importSnapshotVideos(ctx, tx, snapshot.Videos); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	return nil
}

func importSnapshotUsers(ctx context.Context, tx pgx.Tx, users map[string]models.User) error {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, key := range ids {
		user := users[key]
		id := strings.TrimSpace(user.ID)
		if id == "" {
			id = key
		}
		createdAt := user.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, name, username, role, password_hash, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   username = EXCLUDED.username,
			   role = EXCLUDED.role,
			   password_hash = EXCLUDED.password_hash,
			   expires_at = EXCLUDED.expires_at,
			   created_at = EXCLUDED.created_at`,
			id, user.Name, normalizeUsername(user.Username), user.Role,
			user.PasswordHash, user.ExpiresAt, createdAt)
		if err != nil {
			return fmt.Errorf("import user %s: %w", id, err)
		}
	}
	return nil
}

func importSnapshotVideos(ctx context.Context, tx pgx.Tx, videos []models.VideoEntry) error {
	for _, video := range videos {
		createdAt := video.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO videos (id, title, type, link, signaling_url, username, password, processing, thumbnail, summary, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET
			   title = EXCLUDED.title,
			   type = EXCLUDED.type,
			   link = EXCLUDED.link,
			   signaling_url = EXCLUDED.signaling_url,
			   username = EXCLUDED.username,
			   password = EXCLUDED.password,
			   processing = EXCLUDED.processing,
			   thumbnail = EXCLUDED.thumbnail,
			   summary = EXCLUDED.summary,
			   created_at = EXCLUDED.created_at`,
			video.ID, video.Title, string(video.Type), video.Link, video.SignalingURL,
			video.Username, video.Password, video.Processing, video.Thumbnail, video.Summary, createdAt)
		if err != nil {
			return fmt.Errorf("import video %d: %w", video.ID, err)
		}
	}
	return nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"lanstream/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore. Its
// layout matches the JSON file the Storage type writes, so an existing data
// file can be loaded directly and replayed into another backing store.
type Snapshot struct {
	Videos []models.VideoEntry    `json:"videos"`
	Users  map[string]models.User `json:"users"`
}

// SnapshotCounts summarises how many entities of each type a Snapshot holds,
// so operators can sanity-check a migration before and after running it.
type SnapshotCounts struct {
	Videos int
	Users  int
}

// LoadSnapshotFromJSON reads a datastore file from disk and rehydrates it so
// it can be imported or inspected. An empty file yields an empty snapshot.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Videos == nil {
		s.Videos = make([]models.VideoEntry, 0)
	}
	if s.Users == nil {
		s.Users = make(map[string]models.User)
	}
}

// Counts returns the SnapshotCounts summary for the snapshot.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{
		Videos: len(s.Videos),
		Users:  len(s.Users),
	}
}

// ImportSnapshotToPostgres hands a Snapshot to the postgresRepository so the
// serialised datastore state can be bulk-loaded into Postgres.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}

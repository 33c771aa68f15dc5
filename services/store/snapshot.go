package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/pkg/errors"
)

// Snapshot is the on-disk mirror of the in-memory listing collection.
// It survives restarts so the API can serve data before the first
// crawl completes.
type Snapshot struct {
	Listings  []*crawler.ListingRecord `json:"listings"`
	Timestamp time.Time                `json:"timestamp"`
	Total     int                      `json:"total"`
}

// LoadSnapshot reads a snapshot file. A missing file is not an error
// and returns a nil snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistence(path, "failed to read snapshot", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewPersistence(path, "failed to decode snapshot", err)
	}
	return &snap, nil
}

// SaveSnapshot writes the snapshot atomically via a temp file rename
// so a crash mid-write never leaves a truncated snapshot behind.
func SaveSnapshot(path string, listings []*crawler.ListingRecord, timestamp time.Time) error {
	snap := Snapshot{
		Listings:  listings,
		Timestamp: timestamp,
		Total:     len(listings),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.NewPersistence(path, "failed to encode snapshot", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewPersistence(path, "failed to create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return errors.NewPersistence(path, "failed to create temp snapshot", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewPersistence(path, "failed to write temp snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewPersistence(path, "failed to close temp snapshot", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewPersistence(path, "failed to replace snapshot", err)
	}
	return nil
}

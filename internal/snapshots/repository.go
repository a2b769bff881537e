// Package snapshots persists the scanner's in-memory session state so a
// restart mid-session resumes with warm rolling windows instead of an empty
// day.
package snapshots

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tapescan/tapescan/internal/database"
)

// StateKey is the row the enrichment pipeline's state lives under.
const StateKey = "scanner_state"

// Repository stores opaque state blobs keyed by name, tagged with the
// trading day they belong to. Restores check the day tag and discard stale
// blobs rather than seeding a new day with yesterday's windows.
// Database: snapshots.db (state_snapshots table)
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "snapshot_repository").Logger(),
	}
}

// EnsureSchema creates the state_snapshots table if missing.
func (r *Repository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS state_snapshots (
			key        TEXT PRIMARY KEY,
			day_key    TEXT NOT NULL,
			payload    BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create state_snapshots schema: %w", err)
	}
	return nil
}

// Save upserts one state blob.
func (r *Repository) Save(key, dayKey string, payload []byte) error {
	_, err := r.db.Exec(`
		INSERT INTO state_snapshots (key, day_key, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			day_key    = excluded.day_key,
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`, key, dayKey, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}

	r.log.Debug().
		Str("key", key).
		Str("day", dayKey).
		Int("bytes", len(payload)).
		Msg("Snapshot saved")
	return nil
}

// Load returns the blob and its day tag. A missing key returns (nil, "", nil).
func (r *Repository) Load(key string) ([]byte, string, error) {
	var payload []byte
	var dayKey string
	err := r.db.QueryRow(`
		SELECT payload, day_key FROM state_snapshots WHERE key = ?
	`, key).Scan(&payload, &dayKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return payload, dayKey, nil
}

// Delete removes one snapshot row.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec(`DELETE FROM state_snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

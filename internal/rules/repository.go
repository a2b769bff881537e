// Package rules provides the user-rule store and the compilation of rule
// rows and built-in categories into scan rules.
package rules

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tapescan/tapescan/internal/database"
)

// UserRuleRow is one row of the user_rules table. Parameters holds the raw
// JSON object exactly as stored.
type UserRuleRow struct {
	ID         int64  `json:"id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	FilterType string `json:"filter_type"`
	Parameters string `json:"parameters"`
	Priority   int    `json:"priority"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Repository handles database operations for user scan rules.
// Database: rules.db (user_rules table)
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new user-rules repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "rules_repository").Logger(),
	}
}

// EnsureSchema creates the user_rules table and its indexes if missing.
func (r *Repository) EnsureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_rules (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT    NOT NULL,
			name        TEXT    NOT NULL DEFAULT '',
			enabled     INTEGER NOT NULL DEFAULT 1,
			filter_type TEXT    NOT NULL DEFAULT 'scan',
			parameters  TEXT    NOT NULL DEFAULT '{}',
			priority    INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_user_rules_enabled ON user_rules(enabled);
		CREATE INDEX IF NOT EXISTS idx_user_rules_user ON user_rules(user_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create user_rules schema: %w", err)
	}
	return nil
}

// ListEnabled returns all enabled rule rows ordered by user then id, which
// keeps compiled networks deterministic across reloads.
func (r *Repository) ListEnabled() ([]UserRuleRow, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, name, enabled, filter_type, parameters, priority, created_at, updated_at
		FROM user_rules
		WHERE enabled = 1
		ORDER BY user_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled rules: %w", err)
	}
	defer rows.Close()

	return scanRuleRows(rows)
}

// ListByUser returns all rule rows (enabled or not) for one user.
func (r *Repository) ListByUser(userID string) ([]UserRuleRow, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, name, enabled, filter_type, parameters, priority, created_at, updated_at
		FROM user_rules
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanRuleRows(rows)
}

func scanRuleRows(rows *sql.Rows) ([]UserRuleRow, error) {
	var out []UserRuleRow
	for rows.Next() {
		var row UserRuleRow
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.Name, &row.Enabled,
			&row.FilterType, &row.Parameters, &row.Priority,
			&row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}
	return out, nil
}

// CountEnabled returns the number of enabled rule rows. The safety reload
// compares this against the live network's user-rule count.
func (r *Repository) CountEnabled() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM user_rules WHERE enabled = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count enabled rules: %w", err)
	}
	return count, nil
}

// Get returns one rule row by id.
func (r *Repository) Get(id int64) (*UserRuleRow, error) {
	var row UserRuleRow
	err := r.db.QueryRow(`
		SELECT id, user_id, name, enabled, filter_type, parameters, priority, created_at, updated_at
		FROM user_rules
		WHERE id = ?
	`, id).Scan(
		&row.ID, &row.UserID, &row.Name, &row.Enabled,
		&row.FilterType, &row.Parameters, &row.Priority,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return &row, nil
}

// Insert stores a new rule row and returns its assigned id.
func (r *Repository) Insert(row *UserRuleRow) (int64, error) {
	now := time.Now().Unix()
	if row.FilterType == "" {
		row.FilterType = "scan"
	}
	if row.Parameters == "" {
		row.Parameters = "{}"
	}

	result, err := r.db.Exec(`
		INSERT INTO user_rules (user_id, name, enabled, filter_type, parameters, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.UserID, row.Name, row.Enabled, row.FilterType, row.Parameters, row.Priority, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted rule id: %w", err)
	}
	row.ID = id
	row.CreatedAt = now
	row.UpdatedAt = now

	r.log.Info().
		Int64("rule_id", id).
		Str("user_id", row.UserID).
		Str("name", row.Name).
		Msg("Inserted user rule")

	return id, nil
}

// Update rewrites an existing rule row. Returns false when no row has the id.
func (r *Repository) Update(row *UserRuleRow) (bool, error) {
	now := time.Now().Unix()
	result, err := r.db.Exec(`
		UPDATE user_rules
		SET name = ?, enabled = ?, filter_type = ?, parameters = ?, priority = ?, updated_at = ?
		WHERE id = ?
	`, row.Name, row.Enabled, row.FilterType, row.Parameters, row.Priority, now, row.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update rule %d: %w", row.ID, err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		row.UpdatedAt = now
		r.log.Info().Int64("rule_id", row.ID).Msg("Updated user rule")
	}
	return affected > 0, nil
}

// Delete removes a rule row. Returns false when no row has the id.
func (r *Repository) Delete(id int64) (bool, error) {
	result, err := r.db.Exec(`DELETE FROM user_rules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule %d: %w", id, err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		r.log.Info().Int64("rule_id", id).Msg("Deleted user rule")
	}
	return affected > 0, nil
}

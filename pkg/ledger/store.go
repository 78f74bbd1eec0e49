// Package ledger persists the mapping between directory DNs and local
// principal IDs across sync runs. The table is append-only: rows are
// inserted when a mapping is first seen and never updated or deleted,
// so it doubles as a history of everything the sync has ever linked.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"codeberg.org/dirsync/dirsync/pkg/identity"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	provider       TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	principal_id   INTEGER NOT NULL,
	principal_type TEXT NOT NULL CHECK (principal_type IN ('u', 'g')),
	created        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_records_provider ON sync_records(provider);
`

type Record struct {
	Provider    string
	ExternalID  string
	PrincipalID int
	Type        identity.PrincipalType
	Created     time.Time
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync record store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sync record schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordsForProvider loads the historical mappings for one directory
// host, keyed by external DN. When the ledger holds several rows for
// the same DN, the most recent one wins.
func (s *Store) RecordsForProvider(provider string) (map[string]Record, error) {
	rows, err := s.db.Query(
		`SELECT provider, external_id, principal_id, principal_type, created
		 FROM sync_records WHERE provider = ? ORDER BY created, id`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync records for %s: %w", provider, err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Provider, &r.ExternalID, &r.PrincipalID, &r.Type, &r.Created); err != nil {
			return nil, err
		}
		records[r.ExternalID] = r
	}
	return records, rows.Err()
}

// InsertMissing writes a new row unless the exact (provider,
// externalID, principalID) triple is already recorded. Existing rows
// are never touched.
func (s *Store) InsertMissing(provider, externalID string, principalID int, t identity.PrincipalType) error {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sync_records WHERE provider = ? AND external_id = ? AND principal_id = ?`,
		provider, externalID, principalID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check sync record for %s: %w", externalID, err)
	}
	if count > 0 {
		return nil
	}

	_, err = s.db.Exec(
		`INSERT INTO sync_records (provider, external_id, principal_id, principal_type, created)
		 VALUES (?, ?, ?, ?, ?)`,
		provider, externalID, principalID, t, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert sync record for %s: %w", externalID, err)
	}
	return nil
}

// PrincipalIDs returns every local principal ID of the given type that
// any historical record, for any provider, has ever linked.
func (s *Store) PrincipalIDs(t identity.PrincipalType) ([]int, error) {
	rows, err := s.db.Query(`SELECT DISTINCT principal_id FROM sync_records WHERE principal_type = ?`, t)
	if err != nil {
		return nil, fmt.Errorf("failed to list recorded principal ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

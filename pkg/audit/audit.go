// Package audit records one summary row per completed sync run.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunRecord is the audit entry emitted after a non-preview run.
type RunRecord struct {
	ID                 string
	Created            time.Time
	AdminEmail         string
	UsersGroupsAdded   int
	UsersGroupsRemoved int
	MembershipsChanged int
	Comment            string
}

// Sink receives completed run records.
type Sink interface {
	RecordRun(r RunRecord) error
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_audit (
	id                   TEXT PRIMARY KEY,
	created              TIMESTAMP NOT NULL,
	admin_email          TEXT NOT NULL,
	users_groups_added   INTEGER NOT NULL,
	users_groups_removed INTEGER NOT NULL,
	memberships_changed  INTEGER NOT NULL,
	comment              TEXT NOT NULL
);
`

type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) RecordRun(r RunRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO sync_audit (id, created, admin_email, users_groups_added, users_groups_removed, memberships_changed, comment)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Created, r.AdminEmail, r.UsersGroupsAdded, r.UsersGroupsRemoved, r.MembershipsChanged, r.Comment)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Recent returns the latest run records, newest first.
func (s *SQLiteSink) Recent(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, created, admin_email, users_groups_added, users_groups_removed, memberships_changed, comment
		 FROM sync_audit ORDER BY created DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Created, &r.AdminEmail, &r.UsersGroupsAdded, &r.UsersGroupsRemoved, &r.MembershipsChanged, &r.Comment); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

package identity

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	type         TEXT NOT NULL CHECK (type IN ('u', 'g')),
	email        TEXT,
	display_name TEXT NOT NULL DEFAULT '',
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	im           TEXT NOT NULL DEFAULT '',
	active       INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_email
	ON principals(email) WHERE type = 'u';
CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_group_name
	ON principals(display_name) WHERE type = 'g';

CREATE TABLE IF NOT EXISTS memberships (
	group_id  INTEGER NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
	member_id INTEGER NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
	PRIMARY KEY (group_id, member_id)
);
`

// SQLiteStore is an embedded implementation of the Store port, used by
// the daemon when no external identity product is wired in.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	// modernc sqlite serializes access through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize identity schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UserByEmail(email string) (*User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, display_name, first_name, last_name, phone, im, active
		 FROM principals WHERE type = 'u' AND email = ?`, email)
	return scanUser(row)
}

func (s *SQLiteStore) UserByID(id int) (*User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, display_name, first_name, last_name, phone, im, active
		 FROM principals WHERE type = 'u' AND id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var email sql.NullString
	err := row.Scan(&u.ID, &email, &u.DisplayName, &u.FirstName, &u.LastName, &u.Phone, &u.IM, &u.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	u.Email = email.String
	return &u, nil
}

func (s *SQLiteStore) CreateUser(n NewUser) (*User, error) {
	res, err := s.db.Exec(
		`INSERT INTO principals (type, email, display_name, first_name, last_name, phone, im, active)
		 VALUES ('u', ?, ?, ?, ?, ?, ?, 1)`,
		n.Email, n.DisplayName, n.FirstName, n.LastName, n.Phone, n.IM)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", n.Email, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{
		ID:          int(id),
		Email:       n.Email,
		DisplayName: n.DisplayName,
		FirstName:   n.FirstName,
		LastName:    n.LastName,
		Phone:       n.Phone,
		IM:          n.IM,
		Active:      true,
	}, nil
}

func (s *SQLiteStore) UpdateUser(u *User) error {
	_, err := s.db.Exec(
		`UPDATE principals SET email = ?, display_name = ?, first_name = ?, last_name = ?, phone = ?, im = ?
		 WHERE id = ? AND type = 'u'`,
		u.Email, u.DisplayName, u.FirstName, u.LastName, u.Phone, u.IM, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", u.Email, err)
	}
	return nil
}

func (s *SQLiteStore) SetUserActive(u *User, active bool, adminEmail, reason string) error {
	_, err := s.db.Exec(`UPDATE principals SET active = ? WHERE id = ? AND type = 'u'`, active, u.ID)
	if err != nil {
		return fmt.Errorf("failed to set active state of user %s: %w", u.Email, err)
	}
	u.Active = active
	return nil
}

func (s *SQLiteStore) DeleteUser(id int) error {
	if _, err := s.db.Exec(`DELETE FROM principals WHERE id = ? AND type = 'u'`, id); err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GroupByName(name string) (*Group, error) {
	row := s.db.QueryRow(`SELECT id, display_name FROM principals WHERE type = 'g' AND display_name = ?`, name)
	return scanGroup(row)
}

func (s *SQLiteStore) GroupByID(id int) (*Group, error) {
	row := s.db.QueryRow(`SELECT id, display_name FROM principals WHERE type = 'g' AND id = ?`, id)
	return scanGroup(row)
}

func scanGroup(row *sql.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read group: %w", err)
	}
	return &g, nil
}

func (s *SQLiteStore) CreateGroup(name string) (*Group, error) {
	res, err := s.db.Exec(`INSERT INTO principals (type, display_name) VALUES ('g', ?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create group %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Group{ID: int(id), Name: name}, nil
}

func (s *SQLiteStore) DeleteGroup(id int) error {
	if _, err := s.db.Exec(`DELETE FROM principals WHERE id = ? AND type = 'g'`, id); err != nil {
		return fmt.Errorf("failed to delete group %d: %w", id, err)
	}
	return nil
}

// ExpandedMembers walks nested groups breadth-first. Cycles are guarded
// by the seen set.
func (s *SQLiteStore) ExpandedMembers(groupID int) ([]Principal, error) {
	var members []Principal
	seen := map[int]bool{groupID: true}
	queue := []int{groupID}

	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]

		direct, err := s.directMembers(gid)
		if err != nil {
			return nil, err
		}
		for _, p := range direct {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			members = append(members, p)
			if p.Type == TypeGroup {
				queue = append(queue, p.ID)
			}
		}
	}

	return members, nil
}

func (s *SQLiteStore) directMembers(groupID int) ([]Principal, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.type, CASE WHEN p.type = 'u' THEN COALESCE(p.email, '') ELSE p.display_name END
		 FROM memberships m JOIN principals p ON p.id = m.member_id
		 WHERE m.group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var members []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.Type, &p.Name); err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) AddMember(groupID int, p Principal) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO memberships (group_id, member_id) VALUES (?, ?)`, groupID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to add member %s to group %d: %w", p.Name, groupID, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveMember(groupID int, p Principal) error {
	_, err := s.db.Exec(`DELETE FROM memberships WHERE group_id = ? AND member_id = ?`, groupID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to remove member %s from group %d: %w", p.Name, groupID, err)
	}
	return nil
}

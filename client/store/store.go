// Package store keeps the client's local copy of the user directory, its
// contact list and its message history in sqlite.
package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"msgr/models"
)

type Store struct {
	conn *sql.DB
	now  func() time.Time
}

func New(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS known_users (
			login TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			login TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS message_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact TEXT NOT NULL,
			direction TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_contact ON message_history(contact, id)`,
		// Contacts are refreshed from the server on every start.
		`DELETE FROM contacts`,
	}

	for _, q := range queries {
		if _, err := s.conn.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SetKnownUsers replaces the directory with users.
func (s *Store) SetKnownUsers(users []string) error {
	return s.replace("known_users", users)
}

// SetContacts replaces the contact list with contacts.
func (s *Store) SetContacts(contacts []string) error {
	return s.replace("contacts", contacts)
}

func (s *Store) replace(table string, logins []string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM " + table); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT OR IGNORE INTO " + table + " (login) VALUES (?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, login := range logins {
		if _, err := stmt.Exec(login); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AddContact(login string) error {
	_, err := s.conn.Exec("INSERT OR IGNORE INTO contacts (login) VALUES (?)", login)
	return err
}

func (s *Store) RemoveContact(login string) error {
	_, err := s.conn.Exec("DELETE FROM contacts WHERE login = ?", login)
	return err
}

func (s *Store) Contacts() ([]string, error) {
	return s.list("SELECT login FROM contacts ORDER BY login")
}

func (s *Store) KnownUsers() ([]string, error) {
	return s.list("SELECT login FROM known_users ORDER BY login")
}

func (s *Store) IsKnownUser(login string) (bool, error) {
	return s.exists("SELECT COUNT(*) FROM known_users WHERE login = ?", login)
}

func (s *Store) IsContact(login string) (bool, error) {
	return s.exists("SELECT COUNT(*) FROM contacts WHERE login = ?", login)
}

// SaveMessage appends a message exchanged with contact.
func (s *Store) SaveMessage(contact string, dir models.Direction, text string) error {
	_, err := s.conn.Exec(
		"INSERT INTO message_history (contact, direction, message, created_at) VALUES (?, ?, ?, ?)",
		contact, string(dir), text, s.now().Format(time.RFC3339Nano),
	)
	return err
}

// History returns the conversation with contact, oldest first.
func (s *Store) History(contact string) ([]models.HistoryEntry, error) {
	rows, err := s.conn.Query(`
		SELECT id, contact, direction, message, created_at
		FROM message_history
		WHERE contact = ?
		ORDER BY id
	`, contact)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var dir, createdAt string
		if err := rows.Scan(&e.ID, &e.Contact, &dir, &e.Text, &createdAt); err != nil {
			return nil, err
		}
		e.Direction = models.Direction(dir)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		history = append(history, e)
	}
	return history, rows.Err()
}

func (s *Store) list(query string) ([]string, error) {
	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, err
		}
		out = append(out, login)
	}
	return out, rows.Err()
}

func (s *Store) exists(query string, arg string) (bool, error) {
	var count int
	if err := s.conn.QueryRow(query, arg).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"msgr/models"

	_ "github.com/mattn/go-sqlite3"
)

var ErrUnknownUser = errors.New("unknown user")

type DB struct {
	conn *sql.DB
	now  func() time.Time
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER UNIQUE NOT NULL REFERENCES users(id),
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			connected_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS login_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			login_time TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL REFERENCES users(id),
			contact_id INTEGER NOT NULL REFERENCES users(id),
			UNIQUE(owner_id, contact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users_stats (
			user_id INTEGER PRIMARY KEY REFERENCES users(id),
			sent INTEGER NOT NULL DEFAULT 0,
			accepted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_login_history_user ON login_history(user_id, login_time)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	if err := db.migrate(); err != nil {
		return err
	}

	// Sessions do not survive a restart.
	_, err := db.conn.Exec("DELETE FROM active_users")
	return err
}

// migrate performs auto-migration for new columns
func (db *DB) migrate() error {
	if !db.columnExists("users", "last_connect") {
		now := db.now().Format(time.RFC3339)
		// SQLite doesn't support parameters in ALTER TABLE
		alterQuery := "ALTER TABLE users ADD COLUMN last_connect TEXT DEFAULT '" + now + "'"
		if _, err := db.conn.Exec(alterQuery); err != nil {
			return err
		}
		if _, err := db.conn.Exec("UPDATE users SET last_connect = ? WHERE last_connect IS NULL", now); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// UserLogin records a login: the user row is created on first sight, the
// active entry replaced and a history row appended.
func (db *DB) UserLogin(login, ip string, port int) error {
	now := db.now().Format(time.RFC3339)

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO users (login, last_connect) VALUES (?, ?)
		 ON CONFLICT(login) DO UPDATE SET last_connect = excluded.last_connect`,
		login, now,
	)
	if err != nil {
		return err
	}

	var id int64
	if err := tx.QueryRow("SELECT id FROM users WHERE login = ?", login).Scan(&id); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO active_users (user_id, ip, port, connected_at) VALUES (?, ?, ?, ?)",
		id, ip, port, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO login_history (user_id, ip, port, login_time) VALUES (?, ?, ?, ?)",
		id, ip, port, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR IGNORE INTO users_stats (user_id) VALUES (?)", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) UserLogout(login string) error {
	id, err := db.userID(login)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec("DELETE FROM active_users WHERE user_id = ?", id)
	return err
}

func (db *DB) UsersList() ([]models.User, error) {
	rows, err := db.conn.Query("SELECT id, login, COALESCE(last_connect, '') FROM users ORDER BY login")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var lastConnect string
		if err := rows.Scan(&u.ID, &u.Login, &lastConnect); err != nil {
			return nil, err
		}
		u.LastConnect = parseTime(lastConnect)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) ActiveUsersList() ([]models.ActiveUser, error) {
	rows, err := db.conn.Query(`
		SELECT u.login, a.ip, a.port, a.connected_at
		FROM active_users a JOIN users u ON u.id = a.user_id
		ORDER BY a.connected_at, u.login
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []models.ActiveUser
	for rows.Next() {
		var a models.ActiveUser
		var connectedAt string
		if err := rows.Scan(&a.Login, &a.IP, &a.Port, &connectedAt); err != nil {
			return nil, err
		}
		a.ConnectedAt = parseTime(connectedAt)
		active = append(active, a)
	}
	return active, rows.Err()
}

// LoginHistory returns login records for login, or for everyone when login
// is empty.
func (db *DB) LoginHistory(login string) ([]models.LoginRecord, error) {
	query := `
		SELECT u.login, h.login_time, h.ip, h.port
		FROM login_history h JOIN users u ON u.id = h.user_id
	`
	var args []any
	if login != "" {
		query += " WHERE u.login = ?"
		args = append(args, login)
	}
	query += " ORDER BY h.id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.LoginRecord
	for rows.Next() {
		var r models.LoginRecord
		var loginTime string
		if err := rows.Scan(&r.Login, &loginTime, &r.IP, &r.Port); err != nil {
			return nil, err
		}
		r.Time = parseTime(loginTime)
		history = append(history, r)
	}
	return history, rows.Err()
}

func (db *DB) CheckUser(login string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE login = ?", login).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddContact is idempotent. A contact that is not a known user is ignored.
func (db *DB) AddContact(owner, contact string) error {
	ownerID, err := db.userID(owner)
	if err != nil {
		return err
	}
	contactID, err := db.userID(contact)
	if errors.Is(err, ErrUnknownUser) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT OR IGNORE INTO contacts (owner_id, contact_id) VALUES (?, ?)",
		ownerID, contactID,
	)
	return err
}

// RemoveContact deletes the edge if present.
func (db *DB) RemoveContact(owner, contact string) error {
	ownerID, err := db.userID(owner)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"DELETE FROM contacts WHERE owner_id = ? AND contact_id = (SELECT id FROM users WHERE login = ?)",
		ownerID, contact,
	)
	return err
}

func (db *DB) GetContacts(owner string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT c.login
		FROM contacts e
		JOIN users o ON o.id = e.owner_id
		JOIN users c ON c.id = e.contact_id
		WHERE o.login = ?
		ORDER BY c.login
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		contacts = append(contacts, name)
	}
	return contacts, rows.Err()
}

// ProcessMessage bumps the sent counter of sender and the accepted counter
// of recipient.
func (db *DB) ProcessMessage(sender, recipient string) error {
	senderID, err := db.userID(sender)
	if err != nil {
		return err
	}
	recipientID, err := db.userID(recipient)
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO users_stats (user_id, sent) VALUES (?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET sent = sent + 1`, senderID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO users_stats (user_id, accepted) VALUES (?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET accepted = accepted + 1`, recipientID); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) MessageStats() ([]models.MessageStats, error) {
	rows, err := db.conn.Query(`
		SELECT u.login, s.sent, s.accepted
		FROM users_stats s JOIN users u ON u.id = s.user_id
		ORDER BY u.login
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.MessageStats
	for rows.Next() {
		var s models.MessageStats
		if err := rows.Scan(&s.Login, &s.Sent, &s.Accepted); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (db *DB) userID(login string) (int64, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM users WHERE login = ?", login).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, login)
	}
	return id, err
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

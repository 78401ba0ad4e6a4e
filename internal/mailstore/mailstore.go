// ABOUTME: SQLite-backed email store using modernc.org/sqlite
// ABOUTME: The mail-retrieval boundary: Recent, Search and Save over the emails table

package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested email does not exist.
var ErrNotFound = errors.New("email not found")

// Email is one mail record as exposed to clients over the wire.
// Field names match the inbox_update payload the UI consumes.
type Email struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	Subject        string    `json:"subject"`
	FromAddress    string    `json:"from_address"`
	FromName       string    `json:"from_name"`
	DateSent       time.Time `json:"date_sent"`
	Snippet        string    `json:"snippet"`
	IsRead         bool      `json:"is_read"`
	IsStarred      bool      `json:"is_starred"`
	HasAttachments bool      `json:"has_attachments"`
	Folder         string    `json:"folder"`
}

// Criteria narrows a Search. Zero-value fields are ignored.
type Criteria struct {
	Query          string // matches subject or snippet
	From           string
	Subject        string
	Since          time.Time
	Before         time.Time
	Unread         *bool
	HasAttachments bool
	Folder         string
	Limit          int
}

// Store provides read and sync access to the emails table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or opens) the SQLite email database at path.
// Parent directories are created if needed; the schema is migrated in place.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mailstore")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent readers alongside the sync writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("email store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS emails (
			message_id TEXT PRIMARY KEY,
			subject TEXT NOT NULL DEFAULT '',
			from_address TEXT NOT NULL DEFAULT '',
			from_name TEXT NOT NULL DEFAULT '',
			date_sent DATETIME NOT NULL,
			snippet TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			is_starred INTEGER NOT NULL DEFAULT 0,
			has_attachments INTEGER NOT NULL DEFAULT 0,
			folder TEXT NOT NULL DEFAULT 'INBOX'
		);

		CREATE INDEX IF NOT EXISTS idx_emails_date_sent
			ON emails(date_sent DESC);

		CREATE INDEX IF NOT EXISTS idx_emails_from_address
			ON emails(from_address);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

const emailColumns = `message_id, subject, from_address, from_name, date_sent,
	snippet, is_read, is_starred, has_attachments, folder`

// Recent returns up to limit emails, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Email, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		ORDER BY date_sent DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent emails: %w", err)
	}
	defer rows.Close()

	return scanEmails(rows)
}

// Search returns emails matching the criteria, most recent first.
func (s *Store) Search(ctx context.Context, c Criteria) ([]Email, error) {
	var conds []string
	var args []any

	if c.Query != "" {
		conds = append(conds, "(subject LIKE ? OR snippet LIKE ?)")
		pattern := "%" + c.Query + "%"
		args = append(args, pattern, pattern)
	}
	if c.From != "" {
		conds = append(conds, "(from_address LIKE ? OR from_name LIKE ?)")
		pattern := "%" + c.From + "%"
		args = append(args, pattern, pattern)
	}
	if c.Subject != "" {
		conds = append(conds, "subject LIKE ?")
		args = append(args, "%"+c.Subject+"%")
	}
	if !c.Since.IsZero() {
		conds = append(conds, "date_sent >= ?")
		args = append(args, c.Since)
	}
	if !c.Before.IsZero() {
		conds = append(conds, "date_sent < ?")
		args = append(args, c.Before)
	}
	if c.Unread != nil {
		conds = append(conds, "is_read = ?")
		args = append(args, !*c.Unread)
	}
	if c.HasAttachments {
		conds = append(conds, "has_attachments = 1")
	}
	if c.Folder != "" {
		conds = append(conds, "folder = ?")
		args = append(args, c.Folder)
	}

	query := "SELECT " + emailColumns + " FROM emails"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date_sent DESC"

	limit := c.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching emails: %w", err)
	}
	defer rows.Close()

	return scanEmails(rows)
}

// Get returns a single email by message id.
func (s *Store) Get(ctx context.Context, messageID string) (*Email, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE message_id = ?`, messageID)

	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting email: %w", err)
	}
	return e, nil
}

// Save upserts an email by message id. This is the sync boundary: the
// mail-retrieval subsystem writes fetched records through here.
func (s *Store) Save(ctx context.Context, e Email) error {
	if e.MessageID == "" {
		return errors.New("message_id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			subject = excluded.subject,
			from_address = excluded.from_address,
			from_name = excluded.from_name,
			date_sent = excluded.date_sent,
			snippet = excluded.snippet,
			is_read = excluded.is_read,
			is_starred = excluded.is_starred,
			has_attachments = excluded.has_attachments,
			folder = excluded.folder`,
		e.MessageID, e.Subject, e.FromAddress, e.FromName, e.DateSent,
		e.Snippet, e.IsRead, e.IsStarred, e.HasAttachments, e.Folder)
	if err != nil {
		return fmt.Errorf("saving email: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*Email, error) {
	var e Email
	err := row.Scan(&e.MessageID, &e.Subject, &e.FromAddress, &e.FromName,
		&e.DateSent, &e.Snippet, &e.IsRead, &e.IsStarred,
		&e.HasAttachments, &e.Folder)
	if err != nil {
		return nil, err
	}
	e.ID = e.MessageID
	return &e, nil
}

func scanEmails(rows *sql.Rows) ([]Email, error) {
	emails := []Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email row: %w", err)
		}
		emails = append(emails, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating email rows: %w", err)
	}
	return emails, nil
}

package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	cursor     INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	conv_key   TEXT NOT NULL,
	role       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_key_id ON messages(conv_key, id);
CREATE INDEX IF NOT EXISTS idx_messages_key_cursor ON messages(conv_key, cursor);
`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("history db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// a single connection serializes writers; sqlite would otherwise return SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// OpenSQLiteInMemory is used by tests.
func OpenSQLiteInMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Append inserts r. A record whose id already exists for key is ignored.
func (s *SQLite) Append(ctx context.Context, key string, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, conv_key, role, user_id, name, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, key, r.Role, r.UserID, r.Name, r.Content, r.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Read returns the newest limit records for key in chronological order.
func (s *SQLite) Read(ctx context.Context, key string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, user_id, name, content, created_at FROM (
			SELECT cursor, id, role, user_id, name, content, created_at
			FROM messages WHERE conv_key = ? ORDER BY cursor DESC LIMIT ?
		) ORDER BY cursor ASC`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			created string
		)
		if err := rows.Scan(&r.ID, &r.Role, &r.UserID, &r.Name, &r.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.At, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records for key.
func (s *SQLite) Count(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conv_key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

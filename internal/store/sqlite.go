package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

var (
	_ domain.SettingsStore = (*SQLiteStore)(nil)
	_ domain.HistoryStore  = (*SQLiteStore)(nil)
)

// SQLiteStore keeps settings blobs and the full command history in one
// SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLiteStore opens (or creates) the database at path in WAL mode.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	log.Info("store: sqlite database at %s", path)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS command_history (
		id TEXT PRIMARY KEY,
		intent TEXT NOT NULL,
		command_name TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_created ON command_history(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts blob under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	s.log.Debug("store: saved %s (%d bytes)", key, len(blob))
	return nil
}

// Load returns the blob stored under key.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	return blob, nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Append inserts a command record. Re-appending the same id is ignored.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.CommandRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO command_history
			(id, intent, command_name, raw_text, confidence, success, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Intent, rec.CommandName, rec.RawText, rec.Confidence, rec.Success, rec.Result, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("appending record %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the latest limit records, oldest first. A non-positive
// limit returns everything.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent, command_name, raw_text, confidence, success, result, created_at
		FROM (
			SELECT * FROM command_history ORDER BY created_at DESC, id DESC LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var rec domain.CommandRecord
		if err := rows.Scan(&rec.ID, &rec.Intent, &rec.CommandName, &rec.RawText,
			&rec.Confidence, &rec.Success, &rec.Result, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Statistics reports row counts.
func (s *SQLiteStore) Statistics(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int, 2)
	for name, q := range map[string]string{
		"keys":    `SELECT COUNT(*) FROM kv`,
		"history": `SELECT COUNT(*) FROM command_history`,
	} {
		var n int
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		stats[name] = n
	}
	return stats, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

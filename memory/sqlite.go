package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/meepo/core"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore persists one row per message in SQLite. Appends and their
// evictions run in a single transaction.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
}

// SQLiteOptions configure a SQLiteStore.
type SQLiteOptions struct {
	// MaxMessages caps each session; 0 means unbounded.
	MaxMessages int
}

// OpenSQLite opens (or creates) the database at dsn with the pure-Go driver
// and ensures the schema. Use "file::memory:?cache=shared" for an ephemeral
// database.
func OpenSQLite(dsn string, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.MemoryError("memory.open", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(db, optFns...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a store on an existing handle and ensures the schema.
func NewSQLiteStore(db *sql.DB, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	if db == nil {
		return nil, core.MemoryError("memory.open", errors.New("db is nil"))
	}
	opts := SQLiteOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := ensureSchema(db); err != nil {
		return nil, core.MemoryError("memory.schema", err)
	}
	return &SQLiteStore{db: db, maxMessages: opts.MaxMessages}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, key string, msgs ...core.Message) (err error) {
	payloads := make([]string, len(msgs))
	for i, m := range msgs {
		raw, err := core.EncodeJSON(m)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		payloads[i] = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range payloads {
		if _, err = tx.ExecContext(ctx, `INSERT INTO meepo_messages (session_key, payload) VALUES (?, ?)`, key, p); err != nil {
			return err
		}
	}

	if s.maxMessages > 0 {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			DELETE FROM meepo_messages
			WHERE session_key = ? AND id NOT IN (
				SELECT id FROM meepo_messages WHERE session_key = ? ORDER BY id DESC LIMIT ?
			)`, key, key, s.maxMessages)
		if err != nil {
			return err
		}
		var n int64
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n > 0 {
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO meepo_sessions (session_key, evicted) VALUES (?, 1)
				ON CONFLICT(session_key) DO UPDATE SET evicted = 1`, key); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key string, limit int) (core.ReadResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ReadResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM meepo_messages WHERE session_key = ?`, key).Scan(&total); err != nil {
		return core.ReadResult{}, err
	}

	var evicted bool
	err = tx.QueryRowContext(ctx, `SELECT evicted FROM meepo_sessions WHERE session_key = ?`, key).Scan(&evicted)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.ReadResult{}, err
	}

	query := `SELECT payload FROM meepo_messages WHERE session_key = ? ORDER BY id ASC`
	args := []any{key}
	if limit > 0 && total > limit {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, total-limit)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return core.ReadResult{}, err
	}
	defer rows.Close()

	msgs := make([]core.Message, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return core.ReadResult{}, err
		}
		var m core.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return core.ReadResult{}, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return core.ReadResult{}, err
	}

	return core.ReadResult{Messages: msgs, WasTruncated: evicted || (limit > 0 && total > limit)}, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, key string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM meepo_messages WHERE session_key = ?`, key); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM meepo_sessions WHERE session_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meepo_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_meepo_messages_session ON meepo_messages(session_key, id);
		CREATE TABLE IF NOT EXISTS meepo_sessions (
			session_key TEXT PRIMARY KEY,
			evicted INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/codewatch/control-room/internal/model/session"
)

// Store is the durable snapshot of last-known session state. It exists so a
// restart can warm-start without waiting for the first poll; losing it is
// never fatal.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveDeltas applies one tick's changes in a single transaction: created and
// updated sessions are upserted, deleted sessions have their row removed.
// All writes for the tick succeed or none do.
func (s *Store) SaveDeltas(ctx context.Context, deltas []session.Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range deltas {
		switch d.Change {
		case session.Created, session.Updated:
			if d.Current == nil {
				return fmt.Errorf("delta %q: %s without current value", d.ID, d.Change)
			}
			payload, err := json.Marshal(d.Current)
			if err != nil {
				return fmt.Errorf("encode session %q: %w", d.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, payload) VALUES (?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	payload=excluded.payload,
	updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')
`, d.ID, string(payload)); err != nil {
				return fmt.Errorf("upsert session %q: %w", d.ID, err)
			}
		case session.Deleted:
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, d.ID); err != nil {
				return fmt.Errorf("delete session %q: %w", d.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadSnapshot reads the full persisted snapshot. Rows that fail to decode
// are logged and skipped; a corrupt store degrades to a partial (or empty)
// snapshot rather than an error the caller has to handle.
func (s *Store) LoadSnapshot(ctx context.Context) (session.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, payload FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	snap := make(session.Snapshot)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			log.Printf("[store] skipping corrupt row for session %s: %v", id, err)
			continue
		}
		snap[id] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return snap, nil
}

// UpsertSession writes a single session outside a poll tick. CRUD routes use
// it for read-after-write consistency with the next tick.
func (s *Store) UpsertSession(ctx context.Context, sess session.Session) error {
	cur := sess
	return s.SaveDeltas(ctx, []session.Delta{{ID: sess.ID, Current: &cur, Change: session.Updated}})
}

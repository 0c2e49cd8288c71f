package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage backed by a single SQLite database in
// WAL mode. Appends and cursor updates are transactional, so a crash
// between commit and delivery never loses or duplicates an entry.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the journal database at dbPath. Pass
// ":memory:" for a volatile journal.
func OpenSQLite(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS stream_events (
			stream_id  TEXT    NOT NULL,
			seq        INTEGER NOT NULL,
			event      TEXT    NOT NULL,
			created_at TEXT    NOT NULL,
			PRIMARY KEY (stream_id, seq)
		);

		CREATE TABLE IF NOT EXISTS streams (
			stream_id      TEXT    PRIMARY KEY,
			last_delivered INTEGER NOT NULL DEFAULT 0,
			watermark      INTEGER NOT NULL DEFAULT 0,
			updated_at     TEXT    NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Append implements Storage. The event insert and the watermark advance
// commit in one transaction.
func (s *SQLiteStorage) Append(ctx context.Context, streamID string, e Entry) error {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return fmt.Errorf("journal: marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stream_events (stream_id, seq, event, created_at) VALUES (?, ?, ?, ?)`,
		streamID, e.Seq, string(payload), now,
	); err != nil {
		return fmt.Errorf("journal: append seq %d: %w", e.Seq, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO streams (stream_id, last_delivered, watermark, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET
			watermark  = watermark + excluded.watermark,
			updated_at = excluded.updated_at`,
		streamID, e.Event.ContentLen(), now,
	); err != nil {
		return fmt.Errorf("journal: advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	return nil
}

// ReadFrom implements Storage.
func (s *SQLiteStorage) ReadFrom(ctx context.Context, streamID string, fromSeq uint64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event FROM stream_events WHERE stream_id = ? AND seq > ? ORDER BY seq`,
		streamID, fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			seq     uint64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e.Event); err != nil {
			return nil, fmt.Errorf("journal: unmarshal seq %d: %w", seq, err)
		}
		e.Seq = seq
		e.Event.Seq = seq
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HighestCommitted implements Storage.
func (s *SQLiteStorage) HighestCommitted(ctx context.Context, streamID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM stream_events WHERE stream_id = ?`, streamID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("journal: highest committed: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// MarkDelivered implements Storage.
func (s *SQLiteStorage) MarkDelivered(ctx context.Context, streamID string, seq uint64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (stream_id, last_delivered, watermark, updated_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET
			last_delivered = MAX(last_delivered, excluded.last_delivered),
			updated_at     = excluded.updated_at`,
		streamID, seq, now,
	)
	if err != nil {
		return fmt.Errorf("journal: mark delivered: %w", err)
	}
	return nil
}

// LastDelivered implements Storage.
func (s *SQLiteStorage) LastDelivered(ctx context.Context, streamID string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_delivered FROM streams WHERE stream_id = ?`, streamID,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: last delivered: %w", err)
	}
	return seq, nil
}

// Watermark implements Storage.
func (s *SQLiteStorage) Watermark(ctx context.Context, streamID string) (int64, error) {
	var wm int64
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM streams WHERE stream_id = ?`, streamID,
	).Scan(&wm)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: watermark: %w", err)
	}
	return wm, nil
}

var _ Storage = (*SQLiteStorage)(nil)

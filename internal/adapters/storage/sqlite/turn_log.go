package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PabloGalante/clevercompass/internal/domain"
)

// TurnLog keeps turn diagnostics in a local SQLite file.
type TurnLog struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*TurnLog, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	l := &TurnLog{db: db}
	if err := l.EnsureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *TurnLog) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			uid          TEXT NOT NULL UNIQUE,
			session_id   TEXT NOT NULL,
			subject      TEXT NOT NULL,
			has_image    INTEGER NOT NULL DEFAULT 0,
			text_chars   INTEGER NOT NULL DEFAULT 0,
			outcome      TEXT NOT NULL,
			latency_ms   INTEGER NOT NULL DEFAULT 0,
			error_detail TEXT NOT NULL DEFAULT '',
			created_ts   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_session ON turn(session_id, seq)`,
	}
	for _, s := range stmts {
		if _, err := l.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensuring turn table: %w", err)
		}
	}
	return nil
}

func (l *TurnLog) Close() error {
	return l.db.Close()
}

func (l *TurnLog) RecordTurn(ctx context.Context, rec *domain.TurnRecord) error {
	if rec == nil {
		return errors.New("turn record is nil")
	}

	stmt := `INSERT INTO turn (uid, session_id, subject, has_image, text_chars, outcome, latency_ms, error_detail, created_ts)
	         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, stmt,
		string(rec.ID),
		string(rec.SessionID),
		string(rec.Subject),
		rec.HasImage,
		rec.TextChars,
		string(rec.Outcome),
		rec.Latency.Milliseconds(),
		rec.ErrorDetail,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite RecordTurn: %w", err)
	}
	return nil
}

func (l *TurnLog) ListTurns(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.TurnRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}

	query := `SELECT uid, session_id, subject, has_image, text_chars, outcome, latency_ms, error_detail, created_ts
	          FROM (SELECT * FROM turn WHERE session_id = ? ORDER BY seq DESC LIMIT ?)
	          ORDER BY seq ASC`
	rows, err := l.db.QueryContext(ctx, query, string(sessionID), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListTurns: %w", err)
	}
	defer rows.Close()

	list := []*domain.TurnRecord{}
	for rows.Next() {
		var (
			rec       domain.TurnRecord
			latencyMS int64
			createdMS int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Subject,
			&rec.HasImage,
			&rec.TextChars,
			&rec.Outcome,
			&latencyMS,
			&rec.ErrorDetail,
			&createdMS,
		); err != nil {
			return nil, fmt.Errorf("sqlite ListTurns scan: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdMS)
		list = append(list, &rec)
	}
	return list, rows.Err()
}

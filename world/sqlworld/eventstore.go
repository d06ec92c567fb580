// Package sqlworld provides database/sql-backed world.EventStore
// implementations, grounded on the teacher engine's SQLiteStore: a
// single-writer SQLite file for local/dev use (modernc.org/sqlite, no cgo)
// and a MySQL-backed variant for shared deployments
// (github.com/go-sql-driver/mysql). Both share the same schema and query
// set; only the driver name and DSN differ.
package sqlworld

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/wkfcore/wkf"
	"github.com/wkfcore/wkf/world"
)

// Dialect selects the SQL driver EventStore speaks to.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// EventStore is a database/sql-backed world.EventStore. A single *sql.DB
// may be shared by an EventStore and other sqlworld components.
type EventStore struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
	closed  bool
}

// OpenSQLite opens (creating if necessary) a SQLite-backed EventStore at
// path, or ":memory:" for an ephemeral database. Mirrors the teacher
// store's WAL + busy_timeout configuration for single-writer safety.
func OpenSQLite(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	return newEventStore(db, DialectSQLite)
}

// OpenMySQL opens a MySQL-backed EventStore using dsn (see
// github.com/go-sql-driver/mysql's DSN format).
func OpenMySQL(dsn string) (*EventStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return newEventStore(db, DialectMySQL)
}

func newEventStore(db *sql.DB, dialect Dialect) (*EventStore, error) {
	s := &EventStore{db: db, dialect: dialect}
	if err := s.createSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wkf_events (
			event_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			created_at VARCHAR(40) NOT NULL,
			correlation_id VARCHAR(64),
			event_data BLOB,
			blob_ref_id VARCHAR(64),
			blob_ref_size BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wkf_events_run ON wkf_events(run_id, created_at, event_id)`,
		`CREATE TABLE IF NOT EXISTS wkf_run_status (
			run_id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(16) NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection. Safe to call more than
// once.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *EventStore) runStatus(ctx context.Context, tx *sql.Tx, runID string) (wkf.RunStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM wkf_run_status WHERE run_id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load run status: %w", err)
	}
	return wkf.RunStatus(status), nil
}

func (s *EventStore) Append(ctx context.Context, runID string, events []wkf.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := s.runStatus(ctx, tx, runID)
	if err != nil {
		return err
	}

	if status.Terminal() {
		for _, e := range events {
			if !wkf.IsInformationalEvent(e.EventType) {
				return wkf.ErrTerminalRun
			}
		}
	}

	for _, e := range events {
		if status.Terminal() && wkf.IsInformationalEvent(e.EventType) {
			continue
		}
		var blobID sql.NullString
		var blobSize sql.NullInt64
		if e.EventData.IsRef() {
			blobID = sql.NullString{String: e.EventData.Ref.ID, Valid: true}
			blobSize = sql.NullInt64{Int64: e.EventData.Ref.Size, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wkf_events
				(event_id, run_id, event_type, created_at, correlation_id, event_data, blob_ref_id, blob_ref_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EventID, e.RunID, string(e.EventType), e.CreatedAt.Format(time.RFC3339Nano),
			nullableString(e.CorrelationID), e.EventData.Inline, blobID, blobSize,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		if wkf.IsTerminalRunEvent(e.EventType) {
			newStatus := terminalStatusFor(e.EventType)
			if _, err := tx.ExecContext(ctx, s.upsertRunStatusQuery(), runID, string(newStatus)); err != nil {
				return fmt.Errorf("update run status: %w", err)
			}
		}
	}

	return tx.Commit()
}

func terminalStatusFor(t wkf.EventType) wkf.RunStatus {
	switch t {
	case wkf.EventRunCompleted:
		return wkf.RunCompleted
	case wkf.EventRunFailed:
		return wkf.RunFailed
	case wkf.EventRunCancelled:
		return wkf.RunCancelled
	default:
		return ""
	}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// upsertRunStatusQuery returns the dialect-appropriate upsert for
// wkf_run_status: SQLite speaks ON CONFLICT, MySQL speaks ON DUPLICATE KEY.
func (s *EventStore) upsertRunStatusQuery() string {
	if s.dialect == DialectMySQL {
		return `INSERT INTO wkf_run_status (run_id, status) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status)`
	}
	return `INSERT INTO wkf_run_status (run_id, status) VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET status = excluded.status`
}

func (s *EventStore) List(ctx context.Context, runID string, opts world.ListOptions) (world.ListResult, error) {
	order := "ASC"
	if opts.SortOrder == world.SortDesc {
		order = "DESC"
	}

	query := strings.Builder{}
	query.WriteString(`SELECT event_id, run_id, event_type, created_at, correlation_id, event_data, blob_ref_id, blob_ref_size
		FROM wkf_events WHERE run_id = ?`)
	args := []any{runID}

	if opts.Cursor != "" {
		var cursorCreatedAt string
		err := s.db.QueryRowContext(ctx, `SELECT created_at FROM wkf_events WHERE event_id = ?`, opts.Cursor).Scan(&cursorCreatedAt)
		if err != nil && err != sql.ErrNoRows {
			return world.ListResult{}, fmt.Errorf("resolve cursor: %w", err)
		}
		if err == nil {
			if order == "ASC" {
				query.WriteString(` AND (created_at, event_id) > (?, ?)`)
			} else {
				query.WriteString(` AND (created_at, event_id) < (?, ?)`)
			}
			args = append(args, cursorCreatedAt, opts.Cursor)
		}
	}

	query.WriteString(fmt.Sprintf(` ORDER BY created_at %s, event_id %s`, order, order))

	limit := opts.Limit
	if limit <= 0 {
		limit = 256
	}
	query.WriteString(` LIMIT ?`)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return world.ListResult{}, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []wkf.Event
	for rows.Next() {
		var (
			e            wkf.Event
			eventType    string
			createdAt    string
			correlation  sql.NullString
			blobID       sql.NullString
			blobSize     sql.NullInt64
		)
		if err := rows.Scan(&e.EventID, &e.RunID, &eventType, &createdAt, &correlation, &e.EventData.Inline, &blobID, &blobSize); err != nil {
			return world.ListResult{}, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = wkf.EventType(eventType)
		e.CorrelationID = correlation.String
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = parsed
		}
		if blobID.Valid {
			e.EventData.Ref = &wkf.BlobRef{ID: blobID.String, Size: blobSize.Int64}
			e.EventData.Inline = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return world.ListResult{}, fmt.Errorf("iterate events: %w", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	cursor := ""
	if len(out) > 0 {
		cursor = out[len(out)-1].EventID
	}

	return world.ListResult{Data: out, Cursor: cursor, HasMore: hasMore}, nil
}

func (s *EventStore) LoadAll(ctx context.Context, runID string) ([]wkf.Event, error) {
	var out []wkf.Event
	cursor := ""
	for {
		page, err := s.List(ctx, runID, world.ListOptions{Cursor: cursor, SortOrder: world.SortAsc, Limit: 512})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if !page.HasMore {
			return out, nil
		}
		cursor = page.Cursor
	}
}

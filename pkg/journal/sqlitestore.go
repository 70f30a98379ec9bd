package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore is a single-node Store for local and development use. Appends
// are serialised by a mutex.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("journal.OpenSQLite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal.OpenSQLite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal.SQLiteStore.Record begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM tool_calls WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1`,
		e.Request.TenantID).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("journal.SQLiteStore.Record last hash: %w", err)
	}
	if err := seal(e, prevHash); err != nil {
		return err
	}

	row, err := newRow(e)
	if err != nil {
		return fmt.Errorf("journal.SQLiteStore.Record: %w", err)
	}
	var status, output, labels any
	if row.status != "" {
		status = row.status
	}
	if row.output != nil {
		output = string(row.output)
	}
	if row.labels != nil {
		labels = string(row.labels)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tool_calls (
			event_id, tenant_id, agent_id, tool,
			params_json, payload_canon,
			idempotency_key, session_id, trace_id, labels, schema_version,
			requested_at, received_at,
			status, output_json, error_msg, duration_ms, result_canon,
			hash, prev_hash
		) VALUES (?,?,?,?, ?,?, ?,?,?,?,?, ?,?, ?,?,?,?,?, ?,?)`,
		e.EventID, e.Request.TenantID, e.Request.AgentID, e.Request.Tool,
		string(row.params), e.PayloadCanon,
		e.Request.IdempotencyKey, e.Request.SessionID, e.Request.TraceID, labels, e.Request.SchemaVersion,
		formatTS(e.Request.RequestedAt), formatTS(e.ReceivedAt),
		status, output, row.errMsg, row.durationMS, e.ResultCanon,
		e.Hash, e.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("journal.SQLiteStore.Record insert: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("journal.SQLiteStore.Record seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal.SQLiteStore.Record commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertArchiveCheckpoint(ctx context.Context, tenantID string, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archive_checkpoints (tenant_id, checkpoint_at, hash, seq, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE
		SET checkpoint_at = excluded.checkpoint_at, hash = excluded.hash, seq = excluded.seq, updated_at = excluded.updated_at`,
		tenantID, formatTS(cp.At), cp.Hash, cp.Seq, formatTS(time.Now()))
	if err != nil {
		return fmt.Errorf("journal.SQLiteStore.UpsertArchiveCheckpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanEntry(row *sql.Row) (*Entry, error) {
	var (
		e                       Entry
		r                       entryRow
		params                  string
		labels, status, output  sql.NullString
		requestedAt, receivedAt string
	)
	err := row.Scan(
		&e.Seq, &e.EventID, &e.Request.TenantID, &e.Request.AgentID, &e.Request.Tool,
		&params, &e.PayloadCanon,
		&e.Request.IdempotencyKey, &e.Request.SessionID, &e.Request.TraceID, &labels, &e.Request.SchemaVersion,
		&requestedAt, &receivedAt,
		&status, &output, &r.errMsg, &r.durationMS, &e.ResultCanon,
		&e.Hash, &e.PrevHash,
	)
	if err != nil {
		return nil, err
	}
	r.params = []byte(params)
	if labels.Valid {
		r.labels = []byte(labels.String)
	}
	if output.Valid {
		r.output = []byte(output.String)
	}
	r.status = status.String
	if e.Request.RequestedAt, err = parseTS(requestedAt); err != nil {
		return nil, err
	}
	if e.ReceivedAt, err = parseTS(receivedAt); err != nil {
		return nil, err
	}
	if err := r.apply(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, eventID string) (*Entry, error) {
	e, err := s.scanEntry(s.db.QueryRowContext(ctx, selectEntry+` WHERE event_id = ?`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal.SQLiteStore.Get: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) CheckIdempotency(ctx context.Context, tenantID, key string) (*types.ToolCallResponse, error) {
	e, err := s.scanEntry(s.db.QueryRowContext(ctx,
		selectEntry+` WHERE tenant_id = ? AND idempotency_key = ? LIMIT 1`, tenantID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal.SQLiteStore.CheckIdempotency: %w", err)
	}
	return replayResponse(e), nil
}

func (s *SQLiteStore) ChainEntries(ctx context.Context, tenantID string, afterSeq int64) ([]ChainEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, hash, prev_hash, payload_canon, result_canon, received_at
		FROM tool_calls
		WHERE tenant_id = ? AND seq > ?
		ORDER BY seq ASC`, tenantID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("journal.SQLiteStore.ChainEntries: %w", err)
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var ev ChainEvent
		var receivedAt string
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.Hash, &ev.PrevHash, &ev.CanonPayload, &ev.CanonResult, &receivedAt); err != nil {
			return nil, fmt.Errorf("journal.SQLiteStore.ChainEntries scan: %w", err)
		}
		if ev.ReceivedAt, err = parseTS(receivedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal.SQLiteStore.ChainEntries iteration: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM tool_calls ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("journal.SQLiteStore.ListTenantIDs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("journal.SQLiteStore.ListTenantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) ArchiveCheckpoint(ctx context.Context, tenantID string) (Checkpoint, error) {
	var cp Checkpoint
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint_at, hash, seq FROM archive_checkpoints WHERE tenant_id = ?`, tenantID,
	).Scan(&at, &cp.Hash, &cp.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("journal.SQLiteStore.ArchiveCheckpoint: %w", err)
	}
	if cp.At, err = parseTS(at); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("journal: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

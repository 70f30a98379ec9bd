package journal

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PGStore is the Postgres Store. Appends take a per-tenant transaction-scoped
// advisory lock.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// OpenPG connects to dsn and applies the schema.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal.OpenPG connect: %w", err)
	}
	s := NewPGStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the journal tables if they do not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("journal.PGStore.Migrate: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

func (s *PGStore) Record(ctx context.Context, e *Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal.PGStore.Record begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tenantLockID(e.Request.TenantID)); err != nil {
		return fmt.Errorf("journal.PGStore.Record advisory lock: %w", err)
	}

	var prevHash string
	err = tx.QueryRow(ctx,
		`SELECT hash FROM tool_calls WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`,
		e.Request.TenantID).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("journal.PGStore.Record last hash: %w", err)
	}
	if err := seal(e, prevHash); err != nil {
		return err
	}

	row, err := newRow(e)
	if err != nil {
		return fmt.Errorf("journal.PGStore.Record: %w", err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO tool_calls (
			event_id, tenant_id, agent_id, tool,
			params_json, payload_canon,
			idempotency_key, session_id, trace_id, labels, schema_version,
			requested_at, received_at,
			status, output_json, error_msg, duration_ms, result_canon,
			hash, prev_hash
		) VALUES (
			$1,$2,$3,$4,
			$5,$6,
			$7,$8,$9,$10,$11,
			$12,$13,
			$14,$15,$16,$17,$18,
			$19,$20
		) RETURNING seq`,
		e.EventID, e.Request.TenantID, e.Request.AgentID, e.Request.Tool,
		row.params, e.PayloadCanon,
		e.Request.IdempotencyKey, e.Request.SessionID, e.Request.TraceID, row.labels, e.Request.SchemaVersion,
		e.Request.RequestedAt, e.ReceivedAt,
		row.status, row.output, row.errMsg, row.durationMS, e.ResultCanon,
		e.Hash, e.PrevHash,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("journal.PGStore.Record insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("journal.PGStore.Record commit: %w", err)
	}
	return nil
}

func (s *PGStore) UpsertArchiveCheckpoint(ctx context.Context, tenantID string, cp Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_checkpoints (tenant_id, checkpoint_at, hash, seq, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET checkpoint_at = EXCLUDED.checkpoint_at, hash = EXCLUDED.hash, seq = EXCLUDED.seq, updated_at = now()`,
		tenantID, cp.At, cp.Hash, cp.Seq)
	if err != nil {
		return fmt.Errorf("journal.PGStore.UpsertArchiveCheckpoint: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

const selectEntry = `
	SELECT seq, event_id, tenant_id, agent_id, tool,
	       params_json, payload_canon,
	       idempotency_key, session_id, trace_id, labels, schema_version,
	       requested_at, received_at,
	       status, output_json, error_msg, duration_ms, result_canon,
	       hash, prev_hash
	FROM tool_calls`

func (s *PGStore) scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		r      entryRow
		status *string
	)
	err := row.Scan(
		&e.Seq, &e.EventID, &e.Request.TenantID, &e.Request.AgentID, &e.Request.Tool,
		&r.params, &e.PayloadCanon,
		&e.Request.IdempotencyKey, &e.Request.SessionID, &e.Request.TraceID, &r.labels, &e.Request.SchemaVersion,
		&e.Request.RequestedAt, &e.ReceivedAt,
		&status, &r.output, &r.errMsg, &r.durationMS, &e.ResultCanon,
		&e.Hash, &e.PrevHash,
	)
	if err != nil {
		return nil, err
	}
	if status != nil {
		r.status = *status
	}
	if err := r.apply(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGStore) Get(ctx context.Context, eventID string) (*Entry, error) {
	e, err := s.scanEntry(s.pool.QueryRow(ctx, selectEntry+` WHERE event_id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal.PGStore.Get: %w", err)
	}
	return e, nil
}

func (s *PGStore) CheckIdempotency(ctx context.Context, tenantID, key string) (*types.ToolCallResponse, error) {
	e, err := s.scanEntry(s.pool.QueryRow(ctx,
		selectEntry+` WHERE tenant_id = $1 AND idempotency_key = $2 LIMIT 1`, tenantID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal.PGStore.CheckIdempotency: %w", err)
	}
	return replayResponse(e), nil
}

func (s *PGStore) ChainEntries(ctx context.Context, tenantID string, afterSeq int64) ([]ChainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, hash, prev_hash, payload_canon, result_canon, received_at
		FROM tool_calls
		WHERE tenant_id = $1 AND seq > $2
		ORDER BY seq ASC`, tenantID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("journal.PGStore.ChainEntries: %w", err)
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var ev ChainEvent
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.Hash, &ev.PrevHash, &ev.CanonPayload, &ev.CanonResult, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("journal.PGStore.ChainEntries scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal.PGStore.ChainEntries iteration: %w", err)
	}
	return events, nil
}

func (s *PGStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM tool_calls ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("journal.PGStore.ListTenantIDs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("journal.PGStore.ListTenantIDs scan: %w", err)
	}
	return ids, nil
}

func (s *PGStore) ArchiveCheckpoint(ctx context.Context, tenantID string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT checkpoint_at, hash, seq FROM archive_checkpoints WHERE tenant_id = $1`, tenantID,
	).Scan(&cp.At, &cp.Hash, &cp.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("journal.PGStore.ArchiveCheckpoint: %w", err)
	}
	return cp, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Row mapping shared by both stores
// ──────────────────────────────────────────────────────────────────────────────

type entryRow struct {
	params     []byte
	labels     []byte
	status     string
	output     []byte
	errMsg     string
	durationMS int64
}

func newRow(e *Entry) (entryRow, error) {
	r := entryRow{params: []byte(e.Request.Params)}
	if len(r.params) == 0 {
		r.params = []byte(`{}`)
	}
	if len(e.Request.Labels) > 0 {
		b, err := json.Marshal(e.Request.Labels)
		if err != nil {
			return r, fmt.Errorf("marshal labels: %w", err)
		}
		r.labels = b
	}
	if e.Result != nil {
		r.status = string(e.Result.Status)
		r.output = []byte(e.Result.OutputJSON)
		r.errMsg = e.Result.Error
		r.durationMS = e.Result.DurationMS
	}
	return r, nil
}

func (r entryRow) apply(e *Entry) error {
	e.Request.Params = json.RawMessage(r.params)
	if len(r.labels) > 0 {
		if err := json.Unmarshal(r.labels, &e.Request.Labels); err != nil {
			return fmt.Errorf("journal: unmarshal labels: %w", err)
		}
	}
	if r.status != "" {
		e.Result = &types.ExecutionResult{
			Status:     types.Status(r.status),
			Error:      r.errMsg,
			DurationMS: r.durationMS,
		}
		if len(r.output) > 0 {
			e.Result.OutputJSON = json.RawMessage(r.output)
		}
	}
	return nil
}

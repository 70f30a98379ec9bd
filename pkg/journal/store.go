package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

// Entry is one journaled tool call.
type Entry struct {
	Seq        int64                  `json:"seq"`
	EventID    string                 `json:"event_id"`
	Request    types.ToolCallRequest  `json:"request"`
	Result     *types.ExecutionResult `json:"result,omitempty"`
	ReceivedAt time.Time              `json:"received_at"`

	// Set by Record.
	PayloadCanon []byte `json:"-"`
	ResultCanon  []byte `json:"-"`
	Hash         string `json:"hash"`
	PrevHash     string `json:"prev_hash"`
}

// Checkpoint marks the last archived link of a tenant's chain.
type Checkpoint struct {
	At   time.Time
	Hash string
	Seq  int64
}

// Store persists entries. Record must serialise appends per tenant so the
// chain cannot fork.
type Store interface {
	Record(ctx context.Context, e *Entry) error
	// CheckIdempotency returns the earlier response for (tenant, key), or nil.
	CheckIdempotency(ctx context.Context, tenantID, key string) (*types.ToolCallResponse, error)
	// Get returns nil, nil when no entry has the ID.
	Get(ctx context.Context, eventID string) (*Entry, error)
	// ChainEntries returns the tenant's chain after afterSeq, oldest first.
	ChainEntries(ctx context.Context, tenantID string, afterSeq int64) ([]ChainEvent, error)
	ListTenantIDs(ctx context.Context) ([]string, error)
	ArchiveCheckpoint(ctx context.Context, tenantID string) (Checkpoint, error)
	UpsertArchiveCheckpoint(ctx context.Context, tenantID string, cp Checkpoint) error
	Ping(ctx context.Context) error
	Close() error
}

// seal canonicalises e and links it after prevHash.
func seal(e *Entry, prevHash string) error {
	canonPayload, err := CanonicalJSON(e.Request)
	if err != nil {
		return fmt.Errorf("journal seal payload: %w", err)
	}
	var canonResult []byte
	if e.Result != nil {
		canonResult, err = CanonicalJSON(e.Result)
		if err != nil {
			return fmt.Errorf("journal seal result: %w", err)
		}
	}
	e.PayloadCanon = canonPayload
	e.ResultCanon = canonResult
	e.PrevHash = prevHash
	e.Hash = ChainHash(prevHash, canonPayload, canonResult)
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	return nil
}

func replayResponse(e *Entry) *types.ToolCallResponse {
	return &types.ToolCallResponse{EventID: e.EventID, Tool: e.Request.Tool, Replay: true, Result: e.Result}
}

// tenantLockID derives a stable advisory-lock key from a tenant ID.
func tenantLockID(tenantID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the journal named by driver and applies its schema. For
// sqlite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverPostgres, "pgx":
		return OpenPG(ctx, dsn)
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("journal.Open: unsupported driver %q", driver)
	}
}

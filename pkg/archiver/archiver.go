// Package archiver bundles unarchived journal entries per tenant, verifies
// them against the last checkpoint and uploads the bundle to object storage.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/journal"
)

// Store is the part of journal.Store the archiver reads and advances.
type Store interface {
	ArchiveCheckpoint(ctx context.Context, tenantID string) (journal.Checkpoint, error)
	ChainEntries(ctx context.Context, tenantID string, afterSeq int64) ([]journal.ChainEvent, error)
	UpsertArchiveCheckpoint(ctx context.Context, tenantID string, cp journal.Checkpoint) error
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// Uploader stores one bundle under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Service struct {
	store    Store
	uploader Uploader
	log      *slog.Logger
	now      func() time.Time
}

func New(store Store, uploader Uploader, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		uploader: uploader,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Bundle is the uploaded document.
type Bundle struct {
	TenantID     string               `json:"tenant_id"`
	CreatedAt    time.Time            `json:"created_at"`
	EventCount   int                  `json:"event_count"`
	FirstSeq     int64                `json:"first_seq"`
	LastSeq      int64                `json:"last_seq"`
	PrevHash     string               `json:"prev_checkpoint_hash,omitempty"`
	Checkpoint   string               `json:"checkpoint_hash"`
	Since        time.Time            `json:"since"`
	Until        time.Time            `json:"until"`
	ChainRecords []journal.ChainEvent `json:"chain_records"`
}

// BundleKey is the object key a bundle ending at hash is stored under.
func BundleKey(tenantID string, at time.Time, hash string) string {
	return fmt.Sprintf("journal/%s/%04d/%02d/%02d/%s.json", tenantID, at.Year(), at.Month(), at.Day(), hash)
}

// ArchiveTenant uploads every entry recorded after the tenant's checkpoint.
// It returns the uploaded key, or "" when there was nothing to archive.
func (s *Service) ArchiveTenant(ctx context.Context, tenantID string) (string, error) {
	cp, err := s.store.ArchiveCheckpoint(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("archiver.ArchiveTenant checkpoint: %w", err)
	}
	events, err := s.store.ChainEntries(ctx, tenantID, cp.Seq)
	if err != nil {
		return "", fmt.Errorf("archiver.ArchiveTenant entries: %w", err)
	}
	if len(events) == 0 {
		return "", nil
	}
	if err := journal.VerifyChainFrom(cp.Hash, events); err != nil {
		return "", fmt.Errorf("archiver.ArchiveTenant verify: %w", err)
	}

	first, last := events[0], events[len(events)-1]
	now := s.now()
	bundle := Bundle{
		TenantID:     tenantID,
		CreatedAt:    now,
		EventCount:   len(events),
		FirstSeq:     first.Seq,
		LastSeq:      last.Seq,
		PrevHash:     cp.Hash,
		Checkpoint:   last.Hash,
		Since:        cp.At,
		Until:        last.ReceivedAt,
		ChainRecords: events,
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("archiver.ArchiveTenant marshal: %w", err)
	}

	key := BundleKey(tenantID, now, last.Hash)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", fmt.Errorf("archiver.ArchiveTenant upload: %w", err)
	}
	next := journal.Checkpoint{At: last.ReceivedAt, Hash: last.Hash, Seq: last.Seq}
	if err := s.store.UpsertArchiveCheckpoint(ctx, tenantID, next); err != nil {
		return "", fmt.Errorf("archiver.ArchiveTenant advance: %w", err)
	}
	return key, nil
}

// ArchiveAll archives every tenant, or only tenantID when it is set. A
// failing tenant does not stop the others; their errors are joined.
func (s *Service) ArchiveAll(ctx context.Context, tenantID string) ([]string, error) {
	tenants := []string{tenantID}
	if tenantID == "" {
		all, err := s.store.ListTenantIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("archiver.ArchiveAll list tenants: %w", err)
		}
		tenants = all
	}

	var (
		keys []string
		errs []error
	)
	for _, t := range tenants {
		key, err := s.ArchiveTenant(ctx, t)
		if err != nil {
			s.log.ErrorContext(ctx, "archive tenant failed", "tenant_id", t, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", t, err))
			continue
		}
		if key != "" {
			s.log.InfoContext(ctx, "archived journal bundle", "tenant_id", t, "key", key)
			keys = append(keys, key)
		}
	}
	return keys, errors.Join(errs...)
}

// Run archives once, then every interval until ctx is done. A non-positive
// interval returns after the first pass.
func (s *Service) Run(ctx context.Context, tenantID string, interval time.Duration) error {
	_, err := s.ArchiveAll(ctx, tenantID)
	if interval <= 0 {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ArchiveAll(ctx, tenantID)
		}
	}
}

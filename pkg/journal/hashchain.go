package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ChainHash computes the next link of a tenant's chain:
//
//	hash = SHA-256( prevHash || canonicalPayload || canonicalResult )
func ChainHash(prevHash string, canonPayload, canonResult []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonPayload)
	h.Write(canonResult)
	return hex.EncodeToString(h.Sum(nil))
}

// ChainEvent is the part of an entry needed to verify and archive the chain.
type ChainEvent struct {
	Seq          int64     `json:"seq"`
	EventID      string    `json:"event_id"`
	Hash         string    `json:"hash"`
	PrevHash     string    `json:"prev_hash"`
	CanonPayload []byte    `json:"canon_payload"`
	CanonResult  []byte    `json:"canon_result,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// VerifyChain verifies a chain from its genesis.
func VerifyChain(events []ChainEvent) error {
	return VerifyChainFrom("", events)
}

// VerifyChainFrom verifies events as the continuation of a chain whose last
// known hash is prevHash.
func VerifyChainFrom(prevHash string, events []ChainEvent) error {
	prev := prevHash
	for i, ev := range events {
		if ev.PrevHash != "" && ev.PrevHash != prev {
			return fmt.Errorf("journal: chain broken at index %d (event %s): prev_hash %s does not follow %s",
				i, ev.EventID, ev.PrevHash, prev)
		}
		want := ChainHash(prev, ev.CanonPayload, ev.CanonResult)
		if ev.Hash != want {
			return fmt.Errorf("journal: chain broken at index %d (event %s): expected %s, got %s",
				i, ev.EventID, want, ev.Hash)
		}
		prev = ev.Hash
	}
	return nil
}

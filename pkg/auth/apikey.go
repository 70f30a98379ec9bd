package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"sync"
)

// Principal is the authenticated caller of the gateway.
type Principal struct {
	TenantID string
	// ToolPatterns are path.Match globs over tool names; empty allows all.
	ToolPatterns []string
}

// Allows reports whether the principal may call tool.
func (p Principal) Allows(tool string) bool {
	if len(p.ToolPatterns) == 0 {
		return true
	}
	for _, pat := range p.ToolPatterns {
		if ok, err := path.Match(pat, tool); err == nil && ok {
			return true
		}
	}
	return false
}

// KeyStore maps hashed API keys to principals. Thread-safe.
// Keys are stored as SHA-256 hashes to protect against memory dumps.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]Principal // SHA-256(apiKey) → principal
}

// NewKeyStore parses a comma-separated list of "tenant:key[:glob|glob...]".
// Example: "acme:sk-abc:stripe_*|slack_post_message,globex:sk-def"
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{keys: make(map[string]Principal)}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 3)
		if len(parts) < 2 {
			continue
		}
		tenant := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if tenant == "" || key == "" {
			continue
		}
		p := Principal{TenantID: tenant}
		if len(parts) == 3 {
			for _, g := range strings.Split(parts[2], "|") {
				if g = strings.TrimSpace(g); g != "" {
					p.ToolPatterns = append(p.ToolPatterns, g)
				}
			}
		}
		ks.keys[hashKey(key)] = p
	}
	return ks
}

// Lookup returns the principal for a given API key.
func (ks *KeyStore) Lookup(apiKey string) (Principal, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	p, ok := ks.keys[hashKey(apiKey)]
	return p, ok
}

// Len returns the number of configured keys.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKeyStore(t *testing.T) {
	ks := NewKeyStore("tenant1:sk-abc,tenant2:sk-def:stripe_*|slack_post_message")

	tests := []struct {
		key    string
		tenant string
		ok     bool
	}{
		{"sk-abc", "tenant1", true},
		{"sk-def", "tenant2", true},
		{"sk-unknown", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		p, ok := ks.Lookup(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		assert.Equal(t, tt.tenant, p.TenantID, tt.key)
	}

	p, _ := ks.Lookup("sk-def")
	assert.Equal(t, []string{"stripe_*", "slack_post_message"}, p.ToolPatterns)
	assert.Equal(t, 2, ks.Len())
}

func TestNewKeyStore_EmptyAndMalformed(t *testing.T) {
	assert.Equal(t, 0, NewKeyStore("").Len())
	assert.Equal(t, 0, NewKeyStore("nokey, :sk-x, t:").Len())
}

func TestNewKeyStore_Whitespace(t *testing.T) {
	ks := NewKeyStore(" tenant1 : sk-abc , tenant2 : sk-def : vault_* | jira_* ")
	p, ok := ks.Lookup("sk-abc")
	assert.True(t, ok)
	assert.Equal(t, "tenant1", p.TenantID)

	p, ok = ks.Lookup("sk-def")
	assert.True(t, ok)
	assert.Equal(t, []string{"vault_*", "jira_*"}, p.ToolPatterns)
}

func TestPrincipal_Allows(t *testing.T) {
	all := Principal{TenantID: "t"}
	assert.True(t, all.Allows("shell_execute"))

	scoped := Principal{TenantID: "t", ToolPatterns: []string{"stripe_*", "slack_post_message", "[bad"}}
	assert.True(t, scoped.Allows("stripe_create_refund"))
	assert.True(t, scoped.Allows("slack_post_message"))
	assert.False(t, scoped.Allows("slack_list_channels"))
	assert.False(t, scoped.Allows("shell_execute"))
}

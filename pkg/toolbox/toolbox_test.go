package toolbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/process"
)

func parse(t *testing.T, yaml string) *config.File {
	t.Helper()
	f, err := config.ParseFile([]byte(yaml))
	require.NoError(t, err)
	return f
}

func TestBuild_FromFile(t *testing.T) {
	f := parse(t, `
connectors:
  stripe:
    api_key: sk_test_1
  jira:
    base_url: https://acme.atlassian.net
    username: ops@acme.test
    token: jt
`)
	c, err := Build("stripe", Options{File: f})
	require.NoError(t, err)
	assert.Equal(t, "stripe", c.Name())

	c, err = Build("jira", Options{File: f})
	require.NoError(t, err)
	assert.Equal(t, "jira", c.Name())
}

func TestBuild_EnvFallback(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	c, err := Build("slack", Options{})
	require.NoError(t, err)
	assert.Equal(t, "slack", c.Name())
}

func TestBuild_MissingCredentials(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	_, err := Build("github", Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	t.Setenv("JIRA_BASE_URL", "https://acme.atlassian.net")
	t.Setenv("JIRA_EMAIL", "")
	t.Setenv("JIRA_API_TOKEN", "x")
	_, err = Build("jira", Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBuild_DisabledAndUnknown(t *testing.T) {
	f := parse(t, `
connectors:
  stripe:
    enabled: false
    api_key: sk_test_1
`)
	_, err := Build("stripe", Options{File: f})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Build("fax", Options{})
	assert.ErrorIs(t, err, ErrUnknownConnector)
}

func TestBuild_LocalConnectorsRequireOptIn(t *testing.T) {
	t.Setenv("SHELL_ENABLED", "")
	t.Setenv("SPARK_SQL_ENABLED", "")
	_, err := Build("shell", Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = Build("sparksql", Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	f := parse(t, `
connectors:
  shell:
    enabled: true
  sparksql:
    enabled: true
    settings:
      master: local[2]
      conf.spark.sql.shuffle.partitions: "4"
`)
	c, err := Build("shell", Options{File: f, Runner: &process.Fake{}})
	require.NoError(t, err)
	assert.Equal(t, "shell", c.Name())
	c, err = Build("sparksql", Options{File: f, Runner: &process.Fake{}})
	require.NoError(t, err)
	assert.Equal(t, "sparksql", c.Name())
}

func TestShell_DefaultConfirmerRefuses(t *testing.T) {
	t.Setenv("OPA_URL", "")
	t.Setenv("SHELL_AUTO_CONFIRM", "")
	f := parse(t, "connectors:\n  shell:\n    enabled: true\n")
	runner := &process.Fake{}

	reg := connectors.NewRegistry(nil)
	c, err := Build("shell", Options{File: f, Runner: runner})
	require.NoError(t, err)
	require.NoError(t, reg.Register(c))

	res := reg.Invoke(context.Background(), "shell_execute", json.RawMessage(`{"command":"echo hi"}`))
	assert.False(t, res.OK())
	assert.Empty(t, runner.Calls())
}

func TestShell_OPAConfirmer(t *testing.T) {
	opa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"decision":"allow"}}`))
	}))
	defer opa.Close()
	t.Setenv("OPA_URL", opa.URL)

	f := parse(t, "connectors:\n  shell:\n    enabled: true\n")
	runner := &process.Fake{}
	reg := connectors.NewRegistry(nil)
	c, err := Build("shell", Options{File: f, Runner: runner})
	require.NoError(t, err)
	require.NoError(t, reg.Register(c))

	res := reg.Invoke(context.Background(), "shell_execute", json.RawMessage(`{"command":"echo hi"}`))
	assert.True(t, res.OK(), res.Error)
	assert.Len(t, runner.Calls(), 1)
}

func TestRegisterAll_SkipsUnconfigured(t *testing.T) {
	for _, k := range []string{
		"STRIPE_API_KEY", "JENKINS_URL", "VAULT_ADDR", "TWITTER_BEARER_TOKEN", "SEARCHAPI_API_KEY",
		"LINKEDIN_ACCESS_TOKEN", "GITHUB_TOKEN", "AWS_ACCESS_KEY_ID", "DIGITALOCEAN_TOKEN",
		"POSTHOG_PROJECT_API_KEY", "POSTHOG_PERSONAL_API_KEY", "VERCEL_TOKEN", "GOOGLE_SHEETS_ACCESS_TOKEN",
		"HUBSPOT_ACCESS_TOKEN", "TWILIO_ACCOUNT_SID", "SLACK_BOT_TOKEN", "JIRA_BASE_URL",
		"KUBERNETES_SERVICE_HOST", "KUBECONFIG", "KUBERNETES_ENABLED", "SHELL_ENABLED", "SPARK_SQL_ENABLED",
	} {
		t.Setenv(k, "")
	}
	f := parse(t, `
connectors:
  searchapi:
    api_key: k
  vault:
    base_url: http://127.0.0.1:8200
    token: root
`)
	reg := connectors.NewRegistry(nil)
	names, err := RegisterAll(reg, Options{File: f})
	require.NoError(t, err)
	assert.Equal(t, []string{"searchapi", "vault"}, names)
	assert.True(t, reg.Has("searchapi_search"))
	assert.False(t, reg.Has("stripe_create_refund"))
}

func TestRegisterRemotes(t *testing.T) {
	reg := connectors.NewRegistry(nil)
	prefixes, err := RegisterRemotes(reg, "jira=http://jira:8080/, slack=http://slack:8080")
	require.NoError(t, err)
	assert.Equal(t, []string{"jira", "slack"}, prefixes)
	assert.True(t, reg.Has("jira_create_issue"))

	_, err = RegisterRemotes(reg, "broken")
	assert.Error(t, err)

	prefixes, err = RegisterRemotes(reg, "")
	require.NoError(t, err)
	assert.Empty(t, prefixes)
}

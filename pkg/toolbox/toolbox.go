// Package toolbox builds the configured connectors from the YAML file and
// environment, and registers them into a connectors.Registry.
package toolbox

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/connectors/digitalocean"
	"github.com/bturcanu/opentoolbox/pkg/connectors/github"
	"github.com/bturcanu/opentoolbox/pkg/connectors/googlesheets"
	"github.com/bturcanu/opentoolbox/pkg/connectors/hubspot"
	"github.com/bturcanu/opentoolbox/pkg/connectors/jenkins"
	"github.com/bturcanu/opentoolbox/pkg/connectors/jira"
	"github.com/bturcanu/opentoolbox/pkg/connectors/kubernetes"
	"github.com/bturcanu/opentoolbox/pkg/connectors/linkedin"
	"github.com/bturcanu/opentoolbox/pkg/connectors/posthog"
	"github.com/bturcanu/opentoolbox/pkg/connectors/s3"
	"github.com/bturcanu/opentoolbox/pkg/connectors/searchapi"
	"github.com/bturcanu/opentoolbox/pkg/connectors/shell"
	"github.com/bturcanu/opentoolbox/pkg/connectors/slack"
	"github.com/bturcanu/opentoolbox/pkg/connectors/sparksql"
	"github.com/bturcanu/opentoolbox/pkg/connectors/stripe"
	"github.com/bturcanu/opentoolbox/pkg/connectors/twilio"
	"github.com/bturcanu/opentoolbox/pkg/connectors/twitter"
	"github.com/bturcanu/opentoolbox/pkg/connectors/vault"
	"github.com/bturcanu/opentoolbox/pkg/connectors/vercel"
	"github.com/bturcanu/opentoolbox/pkg/policy"
	"github.com/bturcanu/opentoolbox/pkg/process"
)

var (
	// ErrNotConfigured means a connector's required credential is missing.
	ErrNotConfigured = errors.New("connector not configured")
	// ErrDisabled means the connector is switched off.
	ErrDisabled = errors.New("connector disabled")
	// ErrUnknownConnector is returned by Build for an unrecognised name.
	ErrUnknownConnector = errors.New("unknown connector")
)

// Options carries the process-wide dependencies handed to connectors.
type Options struct {
	File   *config.File
	Logger *slog.Logger
	// HTTPClient overrides the per-connector client; nil uses their defaults.
	HTTPClient *http.Client
	// Runner backs shell and sparksql; nil uses process.ExecRunner.
	Runner process.Runner
	// Confirmer gates shell commands; nil derives one from OPA_URL and
	// SHELL_AUTO_CONFIRM.
	Confirmer shell.Confirmer
}

type builder func(c config.Connector, o Options) (connectors.Connector, error)

var builders = map[string]builder{
	"stripe":       buildStripe,
	"jenkins":      buildJenkins,
	"vault":        buildVault,
	"twitter":      buildTwitter,
	"searchapi":    buildSearchAPI,
	"shell":        buildShell,
	"sparksql":     buildSparkSQL,
	"linkedin":     buildLinkedIn,
	"github":       buildGitHub,
	"s3":           buildS3,
	"digitalocean": buildDigitalOcean,
	"posthog":      buildPostHog,
	"vercel":       buildVercel,
	"sheets":       buildSheets,
	"hubspot":      buildHubSpot,
	"twilio":       buildTwilio,
	"slack":        buildSlack,
	"jira":         buildJira,
	"kubernetes":   buildKubernetes,
}

// Names lists every connector Build knows, sorted.
func Names() []string {
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build constructs one connector by name.
func Build(name string, o Options) (connectors.Connector, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, name)
	}
	c := o.File.Connector(name)
	if !c.IsEnabled() {
		return nil, ErrDisabled
	}
	return b(c, o)
}

// RegisterAll builds and registers every connector that is configured.
// Unconfigured and disabled connectors are skipped and logged; any other
// error aborts.
func RegisterAll(reg *connectors.Registry, o Options) ([]string, error) {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	var registered []string
	for _, name := range Names() {
		conn, err := Build(name, o)
		switch {
		case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrDisabled):
			log.Info("connector skipped", "connector", name, "reason", err.Error())
			continue
		case err != nil:
			return registered, fmt.Errorf("toolbox.RegisterAll %s: %w", name, err)
		}
		if err := reg.Register(conn); err != nil {
			return registered, fmt.Errorf("toolbox.RegisterAll: %w", err)
		}
		log.Info("connector registered", "connector", name, "operations", len(conn.Operations()))
		registered = append(registered, name)
	}
	return registered, nil
}

// RegisterRemotes parses "prefix=url,prefix=url" (CONNECTOR_REMOTES) and
// routes each prefix to its connector service.
func RegisterRemotes(reg *connectors.Registry, raw string) ([]string, error) {
	var prefixes []string
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		prefix, url, ok := strings.Cut(pair, "=")
		prefix, url = strings.TrimSpace(prefix), strings.TrimSpace(url)
		if !ok || prefix == "" || url == "" {
			return prefixes, fmt.Errorf("toolbox.RegisterRemotes: malformed entry %q", pair)
		}
		reg.RegisterRemote(prefix, url)
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// first returns the first non-empty value.
func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func env(key string) string { return config.EnvOr(key, "") }

func need(values ...string) error {
	for _, v := range values {
		if v == "" {
			return ErrNotConfigured
		}
	}
	return nil
}

// optIn reports whether a connector without credentials was switched on
// explicitly, in the file or by envKey.
func optIn(c config.Connector, envKey string) bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return config.EnvOrBool(envKey, false)
}

func boolSetting(c config.Connector, key string, fallback bool) bool {
	v := c.Setting(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func listSetting(c config.Connector, key, envKey string) []string {
	raw := first(c.Setting(key, ""), env(envKey))
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP adapters
// ──────────────────────────────────────────────────────────────────────────────

func buildStripe(c config.Connector, o Options) (connectors.Connector, error) {
	key := first(c.APIKey, c.Token, env("STRIPE_API_KEY"))
	if err := need(key); err != nil {
		return nil, err
	}
	return stripe.New(stripe.Config{
		BaseURL: c.BaseURL, SecretKey: key, APIVersion: first(c.APIVersion, env("STRIPE_API_VERSION")),
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildJenkins(c config.Connector, o Options) (connectors.Connector, error) {
	base := first(c.BaseURL, env("JENKINS_URL"))
	user := first(c.Username, env("JENKINS_USER"))
	token := first(c.Token, c.Password, env("JENKINS_API_TOKEN"))
	if err := need(base, user, token); err != nil {
		return nil, err
	}
	return jenkins.New(jenkins.Config{
		BaseURL: base, Username: user, APIToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildVault(c config.Connector, o Options) (connectors.Connector, error) {
	addr := first(c.BaseURL, env("VAULT_ADDR"))
	token := first(c.Token, env("VAULT_TOKEN"))
	if err := need(addr, token); err != nil {
		return nil, err
	}
	return vault.New(vault.Config{
		Address: addr, Token: token,
		Mount:     c.Setting("mount", env("VAULT_MOUNT")),
		Namespace: c.Setting("namespace", env("VAULT_NAMESPACE")),
		Headers:   c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildTwitter(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("TWITTER_BEARER_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return twitter.New(twitter.Config{
		BaseURL: c.BaseURL, BearerToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildSearchAPI(c config.Connector, o Options) (connectors.Connector, error) {
	key := first(c.APIKey, env("SEARCHAPI_API_KEY"))
	if err := need(key); err != nil {
		return nil, err
	}
	return searchapi.New(searchapi.Config{
		BaseURL: c.BaseURL, APIKey: key, Engine: c.Setting("engine", ""),
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildLinkedIn(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("LINKEDIN_ACCESS_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return linkedin.New(linkedin.Config{
		BaseURL: c.BaseURL, AccessToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildGitHub(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("GITHUB_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return github.New(github.Config{
		BaseURL: c.BaseURL, Token: token, APIVersion: c.APIVersion,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildDigitalOcean(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("DIGITALOCEAN_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return digitalocean.New(digitalocean.Config{
		BaseURL: c.BaseURL, Token: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildPostHog(c config.Connector, o Options) (connectors.Connector, error) {
	projectKey := first(c.APIKey, env("POSTHOG_PROJECT_API_KEY"))
	personalKey := first(c.Token, env("POSTHOG_PERSONAL_API_KEY"))
	if projectKey == "" && personalKey == "" {
		return nil, ErrNotConfigured
	}
	return posthog.New(posthog.Config{
		Host: first(c.BaseURL, env("POSTHOG_HOST")), ProjectAPIKey: projectKey, PersonalAPIKey: personalKey,
		ProjectID: c.Setting("project_id", env("POSTHOG_PROJECT_ID")),
		Headers:   c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildVercel(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("VERCEL_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return vercel.New(vercel.Config{
		BaseURL: c.BaseURL, Token: token, TeamID: c.Setting("team_id", env("VERCEL_TEAM_ID")),
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildSheets(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("GOOGLE_SHEETS_ACCESS_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return googlesheets.New(googlesheets.Config{
		BaseURL: c.BaseURL, AccessToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildHubSpot(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("HUBSPOT_ACCESS_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return hubspot.New(hubspot.Config{
		BaseURL: c.BaseURL, AccessToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildTwilio(c config.Connector, o Options) (connectors.Connector, error) {
	sid := first(c.Username, env("TWILIO_ACCOUNT_SID"))
	token := first(c.Token, c.Password, env("TWILIO_AUTH_TOKEN"))
	if err := need(sid, token); err != nil {
		return nil, err
	}
	return twilio.New(twilio.Config{
		BaseURL: c.BaseURL, AccountSID: sid, AuthToken: token, From: c.Setting("from", env("TWILIO_FROM_NUMBER")),
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildSlack(c config.Connector, o Options) (connectors.Connector, error) {
	token := first(c.Token, env("SLACK_BOT_TOKEN"))
	if err := need(token); err != nil {
		return nil, err
	}
	return slack.New(slack.Config{
		BaseURL: c.BaseURL, BotToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

func buildJira(c config.Connector, o Options) (connectors.Connector, error) {
	base := first(c.BaseURL, env("JIRA_BASE_URL"))
	email := first(c.Username, env("JIRA_EMAIL"))
	token := first(c.Token, c.Password, env("JIRA_API_TOKEN"))
	if err := need(base, email, token); err != nil {
		return nil, err
	}
	return jira.New(jira.Config{
		BaseURL: base, Email: email, APIToken: token,
		Headers: c.Headers, Query: c.Query, Timeout: c.Timeout, HTTPClient: o.HTTPClient,
	}), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SDK-backed and local adapters
// ──────────────────────────────────────────────────────────────────────────────

func buildS3(c config.Connector, _ Options) (connectors.Connector, error) {
	access := first(c.Username, c.APIKey, env("AWS_ACCESS_KEY_ID"))
	secret := first(c.Password, c.Token, env("AWS_SECRET_ACCESS_KEY"))
	if err := need(access, secret); err != nil {
		return nil, err
	}
	conn, err := s3.New(s3.Config{
		Endpoint:     first(c.BaseURL, env("S3_ENDPOINT")),
		AccessKey:    access,
		SecretKey:    secret,
		SessionToken: env("AWS_SESSION_TOKEN"),
		Region:       c.Setting("region", env("AWS_REGION")),
		Secure:       boolSetting(c, "secure", config.EnvOrBool("S3_SECURE", true)),
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func buildKubernetes(c config.Connector, _ Options) (connectors.Connector, error) {
	inCluster := boolSetting(c, "in_cluster", env("KUBERNETES_SERVICE_HOST") != "")
	kubeconfig := c.Setting("kubeconfig", env("KUBECONFIG"))
	if !inCluster && kubeconfig == "" && !optIn(c, "KUBERNETES_ENABLED") {
		return nil, ErrNotConfigured
	}
	conn, err := kubernetes.New(kubernetes.Config{
		Kubeconfig: kubeconfig,
		Context:    c.Setting("context", ""),
		InCluster:  inCluster,
		Timeout:    c.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func buildShell(c config.Connector, o Options) (connectors.Connector, error) {
	if !optIn(c, "SHELL_ENABLED") {
		return nil, ErrNotConfigured
	}
	confirmer := o.Confirmer
	if confirmer == nil {
		confirmer = defaultConfirmer(c, o.Logger)
	}
	conn, err := shell.New(shell.Config{
		Runner:        o.Runner,
		Confirmer:     confirmer,
		WorkingDir:    c.Setting("working_dir", env("SHELL_WORKING_DIR")),
		AllowPatterns: listSetting(c, "allow_patterns", "SHELL_ALLOW_PATTERNS"),
		Logger:        o.Logger,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// defaultConfirmer asks OPA when an address is configured, otherwise
// honours SHELL_AUTO_CONFIRM. Without either every command is refused.
func defaultConfirmer(c config.Connector, log *slog.Logger) shell.Confirmer {
	if opa := c.Setting("opa_url", env("OPA_URL")); opa != "" {
		return policy.NewClient(opa, log)
	}
	if boolSetting(c, "auto_confirm", config.EnvOrBool("SHELL_AUTO_CONFIRM", false)) {
		return shell.AllowAll
	}
	return shell.DenyAll
}

func buildSparkSQL(c config.Connector, o Options) (connectors.Connector, error) {
	if !optIn(c, "SPARK_SQL_ENABLED") {
		return nil, ErrNotConfigured
	}
	conf := map[string]string{}
	for k, v := range c.Settings {
		if name, ok := strings.CutPrefix(k, "conf."); ok {
			conf[name] = v
		}
	}
	return sparksql.New(sparksql.Config{
		Runner:   o.Runner,
		Binary:   c.Setting("binary", env("SPARK_SQL_BIN")),
		Master:   c.Setting("master", env("SPARK_MASTER")),
		Database: c.Setting("database", ""),
		Conf:     conf,
		Logger:   o.Logger,
	}), nil
}

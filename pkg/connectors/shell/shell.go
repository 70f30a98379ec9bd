// Package shell runs local shell commands behind deny patterns and an
// injected confirmation step.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/process"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const maxOutputChars = 10000

// DefaultDenyPatterns match dangerous shell commands.
var DefaultDenyPatterns = []string{
	`\brm\s+-[rf]{1,2}\b`,
	`\bdel\s+/[fq]\b`,
	`\brmdir\s+/s\b`,
	`\b(format|mkfs|diskpart)\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd`,
	`\b(shutdown|reboot|poweroff)\b`,
	`:\(\)\s*\{.*\};\s*:`,
}

// ConfirmRequest is what a Confirmer decides on.
type ConfirmRequest struct {
	Command  string
	Dir      string
	TenantID string
}

// Confirmer approves or refuses a command before it runs.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	return f(ctx, req)
}

// AllowAll approves every command that passes the deny patterns.
var AllowAll = ConfirmFunc(func(context.Context, ConfirmRequest) (bool, error) { return true, nil })

// DenyAll refuses every command.
var DenyAll = ConfirmFunc(func(context.Context, ConfirmRequest) (bool, error) { return false, nil })

var (
	errRejected = errors.New("command rejected by confirmer")
	errBlocked  = errors.New("command blocked by safety guard (dangerous pattern detected)")
)

type Config struct {
	Runner        process.Runner
	Confirmer     Confirmer // nil refuses everything
	WorkingDir    string
	DenyPatterns  []string // nil uses DefaultDenyPatterns
	AllowPatterns []string // when set, a command must match one
	Logger        *slog.Logger
}

type Connector struct {
	runner     process.Runner
	confirmer  Confirmer
	workingDir string
	deny       []*regexp.Regexp
	allow      []*regexp.Regexp
	log        *slog.Logger
}

// New compiles the patterns; an invalid pattern is an error.
func New(cfg Config) (*Connector, error) {
	if cfg.Runner == nil {
		cfg.Runner = process.ExecRunner{}
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = DenyAll
	}
	if cfg.DenyPatterns == nil {
		cfg.DenyPatterns = DefaultDenyPatterns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	deny, err := compile(cfg.DenyPatterns)
	if err != nil {
		return nil, fmt.Errorf("shell.New deny patterns: %w", err)
	}
	allow, err := compile(cfg.AllowPatterns)
	if err != nil {
		return nil, fmt.Errorf("shell.New allow patterns: %w", err)
	}
	return &Connector{
		runner:     cfg.Runner,
		confirmer:  cfg.Confirmer,
		workingDir: cfg.WorkingDir,
		deny:       deny,
		allow:      allow,
		log:        cfg.Logger,
	}, nil
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func (c *Connector) Name() string { return "shell" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "shell_execute",
			Description: "Execute a shell command after confirmation and return its output.",
			Action:      "executing command",
			Params: []connectors.Param{
				{Name: "command", Type: connectors.TypeString, Description: "The shell command to execute", Required: true},
				{Name: "working_dir", Type: connectors.TypeString, Description: "Optional working directory"},
				{Name: "timeout", Type: connectors.TypeInteger, Description: "Timeout in seconds", Range: &connectors.Range{Min: 1, Max: 600}, Default: 60},
			},
		}, c.execute),
	}
}

type executeParams struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
	Timeout    int    `json:"timeout"`
}

func (c *Connector) execute(ctx context.Context, p executeParams) (string, error) {
	dir := p.WorkingDir
	if dir == "" {
		dir = c.workingDir
	}
	if err := c.guard(p.Command); err != nil {
		return "", err
	}

	caller, _ := connectors.CallerFromContext(ctx)
	ok, err := c.confirmer.Confirm(ctx, ConfirmRequest{Command: p.Command, Dir: dir, TenantID: caller.TenantID})
	if err != nil {
		c.log.Warn("shell confirmation failed", "command", p.Command, "error", err)
		return "", fmt.Errorf("%w: %v", errRejected, err)
	}
	if !ok {
		return "", errRejected
	}

	timeout := time.Duration(transport.ClampDefault(p.Timeout, 60, 1, 600)) * time.Second
	cmd := process.ShellCommand(p.Command)
	cmd.Dir = dir
	cmd.Timeout = timeout

	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if out.TimedOut {
		return "", fmt.Errorf("command timed out after %v", timeout)
	}
	return formatOutput(out), nil
}

func (c *Connector) guard(command string) error {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, re := range c.deny {
		if re.MatchString(lower) {
			return errBlocked
		}
	}
	if len(c.allow) == 0 {
		return nil
	}
	for _, re := range c.allow {
		if re.MatchString(lower) {
			return nil
		}
	}
	return errors.New("command blocked by safety guard (not in allowlist)")
}

func formatOutput(out process.Output) string {
	var parts []string
	if out.Stdout != "" {
		parts = append(parts, out.Stdout)
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		parts = append(parts, "STDERR:\n"+s)
	}
	if out.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", out.ExitCode))
	}

	result := "(no output)"
	if len(parts) > 0 {
		result = strings.Join(parts, "\n")
	}
	if len(result) > maxOutputChars {
		cut := maxOutputChars
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut] + fmt.Sprintf("\n... (truncated, %d more chars)", len(result)-cut)
	}
	return result
}

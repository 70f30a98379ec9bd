// Toolctl lists and invokes tools from the command line, either in-process
// from the local configuration or through a gateway, and can expose every
// local tool as an MCP server over stdio.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/sdk/client"
	"github.com/bturcanu/opentoolbox/pkg/toolbox"
)

var version = "dev"

type rootOptions struct {
	configPath string
	gatewayURL string
	apiKey     string
	logLevel   string

	newRegistry registryFunc
}

type registryFunc func(o *rootOptions, log *slog.Logger) (*connectors.Registry, error)

func main() {
	if err := newRootCmd(localRegistry).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(newRegistry registryFunc) *cobra.Command {
	o := &rootOptions{newRegistry: newRegistry}
	cmd := &cobra.Command{
		Use:          "toolctl",
		Short:        "List, call and serve toolbox tools",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "toolctl version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", config.EnvOr("TOOLBOX_CONFIG", ""), "YAML connector configuration")
	flags.StringVar(&o.gatewayURL, "gateway", config.EnvOr("TOOLBOX_GATEWAY_URL", ""), "call tools through this gateway instead of in-process")
	flags.StringVar(&o.apiKey, "api-key", config.EnvOr("TOOLBOX_API_KEY", ""), "gateway API key")
	flags.StringVar(&o.logLevel, "log-level", config.EnvOr("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")

	cmd.AddCommand(newToolsCmd(o))
	cmd.AddCommand(newCallCmd(o))
	cmd.AddCommand(newMCPCmd(o))
	return cmd
}

// logger writes to stderr so stdout stays clean for results and MCP frames.
func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) gateway() *client.Client {
	if o.gatewayURL == "" {
		return nil
	}
	return client.New(o.gatewayURL, o.apiKey)
}

func localRegistry(o *rootOptions, log *slog.Logger) (*connectors.Registry, error) {
	file, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, err
	}
	reg := connectors.NewRegistry(log)
	if _, err := toolbox.RegisterAll(reg, toolbox.Options{File: file, Logger: log}); err != nil {
		return nil, err
	}
	if len(reg.Tools()) == 0 {
		return nil, fmt.Errorf("no connectors configured; set credentials in the environment or --config")
	}
	return reg, nil
}

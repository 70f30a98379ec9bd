package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
)

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve every local tool as an MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := o.logger(cmd.ErrOrStderr())
			reg, err := o.newRegistry(o, log)
			if err != nil {
				return err
			}
			s, err := newMCPServer(reg)
			if err != nil {
				return err
			}
			log.Info("mcp server starting", "tools", len(reg.Tools()))
			return server.ServeStdio(s)
		},
	}
}

func newMCPServer(reg *connectors.Registry) (*server.MCPServer, error) {
	tools, err := mcpTools(reg)
	if err != nil {
		return nil, err
	}
	s := server.NewMCPServer("opentoolbox", version, server.WithToolCapabilities(false))
	s.AddTools(tools...)
	return s, nil
}

func mcpTools(reg *connectors.Registry) ([]server.ServerTool, error) {
	infos := reg.Tools()
	out := make([]server.ServerTool, 0, len(infos))
	for _, info := range infos {
		schema, err := json.Marshal(info.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", info.Name, err)
		}
		out = append(out, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(info.Name, info.Description, schema),
			Handler: mcpHandler(reg, info.Name),
		})
	}
	return out, nil
}

// mcpHandler reports tool failures as error results, not protocol errors,
// so the model sees the message.
func mcpHandler(reg *connectors.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		res := reg.Invoke(ctx, name, args)
		body := string(res.OutputJSON())
		if !res.OK() {
			return mcp.NewToolResultError(fmt.Sprintf("%s\n%s", res.Error, body)), nil
		}
		return mcp.NewToolResultText(body), nil
	}
}

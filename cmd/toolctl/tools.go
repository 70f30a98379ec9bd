package main

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
)

func newToolsCmd(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var tools []connectors.ToolInfo
			if gw := o.gateway(); gw != nil {
				var err error
				if tools, err = gw.Tools(cmd.Context()); err != nil {
					return err
				}
			} else {
				reg, err := o.newRegistry(o, o.logger(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				tools = reg.Tools()
			}
			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tools)
			}
			renderTools(cmd.OutOrStdout(), tools)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func renderTools(w io.Writer, tools []connectors.ToolInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TOOL", "CONNECTOR", "KIND", "MODE", "PARAMS", "DESCRIPTION"})
	for _, tool := range tools {
		mode := text.FgYellow.Sprint("write")
		if tool.ReadOnly {
			mode = text.FgGreen.Sprint("read")
		}
		t.AppendRow(table.Row{tool.Name, tool.Connector, tool.Kind, mode, paramSummary(tool.InputSchema), tool.Description})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", text.FgHiBlack.Sprintf("%d tools", len(tools))})
	t.Render()
}

// paramSummary renders "a*, b, c" with required parameters starred.
func paramSummary(schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for name := range props {
		if required[name] {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

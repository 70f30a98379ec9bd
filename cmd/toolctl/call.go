package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

var errToolFailed = errors.New("tool call failed")

func newCallCmd(o *rootOptions) *cobra.Command {
	var (
		params         string
		tenantID       string
		agentID        string
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool and print its result",
		Example: `  toolctl call searchapi_search --params '{"q":"golang"}'
  toolctl call slack_post_message --gateway http://localhost:8080 --api-key sk-... \
      --params '{"channel":"C123","text":"deployed"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool := args[0]
			if !json.Valid([]byte(params)) {
				return fmt.Errorf("--params must be valid JSON")
			}

			var result types.Result
			if gw := o.gateway(); gw != nil {
				resp, err := gw.Call(cmd.Context(), types.ToolCallRequest{
					TenantID: tenantID, AgentID: agentID, Tool: tool,
					Params: json.RawMessage(params), IdempotencyKey: idempotencyKey,
				})
				if err != nil {
					return err
				}
				if resp.Result == nil {
					return fmt.Errorf("gateway returned no result for event %s", resp.EventID)
				}
				result = types.Result{Status: resp.Result.Status, Output: resp.Result.OutputJSON, Error: resp.Result.Error}
			} else {
				reg, err := o.newRegistry(o, o.logger(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				if !reg.Has(tool) {
					return fmt.Errorf("unknown tool %q (see toolctl tools)", tool)
				}
				result = reg.Invoke(cmd.Context(), tool, json.RawMessage(params))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.OK() {
				return errToolFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "{}", "tool parameters as a JSON object")
	cmd.Flags().StringVar(&tenantID, "tenant", "cli", "tenant ID sent to the gateway")
	cmd.Flags().StringVar(&agentID, "agent", "toolctl", "agent ID sent to the gateway")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key sent to the gateway")
	return cmd
}

// Copyright 2026 AgentFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCommand(newClient func() *client) *cobra.Command {
	var flowID, workflowName, inputsJSON string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new workflow run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs map[string]any
			if inputsJSON != "" {
				if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
					return fmt.Errorf("parse --inputs as JSON: %w", err)
				}
			}

			var wf map[string]any
			if err := newClient().post("/v1/workflows", map[string]any{
				"flowId":       flowID,
				"workflowName": workflowName,
				"inputs":       inputs,
			}, &wf); err != nil {
				return err
			}
			return printJSON(wf)
		},
	}
	cmd.Flags().StringVar(&flowID, "flow", "", "flow ID to submit against (required)")
	cmd.Flags().StringVar(&workflowName, "workflow", "", "workflow name within the flow (required)")
	cmd.Flags().StringVar(&inputsJSON, "inputs", "", "workflow inputs as a JSON object")
	cmd.MarkFlagRequired("flow")
	cmd.MarkFlagRequired("workflow")
	return cmd
}

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
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newWorkflowsCommand(newClient func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect workflow runs",
	}
	cmd.AddCommand(newWorkflowsListCommand(newClient), newWorkflowsGetCommand(newClient), newWorkflowsCancelCommand(newClient))
	return cmd
}

func newWorkflowsListCommand(newClient func() *client) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/workflows"
			if state != "" {
				path += "?state=" + url.QueryEscape(state)
			}
			var out map[string]any
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by workflow state (running, completed, failed, cancelled)")
	return cmd
}

func newWorkflowsGetCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newClient().get(fmt.Sprintf("/v1/workflows/%s", url.PathEscape(args[0])), &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newWorkflowsCancelCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running workflow and its non-terminal steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			path := fmt.Sprintf("/v1/workflows/%s/cancel", url.PathEscape(args[0]))
			if err := newClient().post(path, nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

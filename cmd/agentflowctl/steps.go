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

func newStepsCommand(newClient func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Inspect workflow steps",
	}
	cmd.AddCommand(newStepsListCommand(newClient), newStepsGetCommand(newClient))
	return cmd
}

func newStepsListCommand(newClient func() *client) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list <workflow-id>",
		Short: "List steps for a workflow, optionally filtered by state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/workflows/%s/steps", url.PathEscape(args[0]))
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
	cmd.Flags().StringVar(&state, "state", "", "filter by step state")
	return cmd
}

func newStepsGetCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id> <step-id>",
		Short: "Show one step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/workflows/%s/steps/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
			var out map[string]any
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

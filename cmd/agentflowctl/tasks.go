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
	"net/url"

	"github.com/spf13/cobra"
)

func newTasksCommand(newClient func() *client) *cobra.Command {
	var topic, state string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List dispatcher tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if topic != "" {
				q.Set("topic", topic)
			}
			if state != "" {
				q.Set("state", state)
			}
			path := "/v1/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out map[string]any
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "filter by task topic")
	cmd.Flags().StringVar(&state, "state", "", "filter by task state (pending, running, completed, failed)")
	return cmd
}

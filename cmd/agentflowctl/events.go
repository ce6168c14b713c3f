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

func newEventsCommand(newClient func() *client) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List dispatcher events, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/events"
			if state != "" {
				path += "?" + (url.Values{"state": {state}}).Encode()
			}
			var out map[string]any
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by event state")
	return cmd
}

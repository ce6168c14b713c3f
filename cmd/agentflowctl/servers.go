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

import "github.com/spf13/cobra"

func newServersCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List registered runner servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newClient().get("/v1/servers", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

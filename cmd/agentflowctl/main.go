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

// Command agentflowctl is a thin CLI client for agentflowd's HTTP
// resource surface: submitting workflows and inspecting steps, events,
// tasks, and servers without writing curl invocations by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "agentflowctl",
		Short:         "Inspect and drive an AgentFlow engine over its HTTP resource surface",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", envOr("AGENTFLOWCTL_ADDR", "http://localhost:8080"), "agentflowd HTTP resource surface address")

	newClient := func() *client { return newHTTPClient(addr) }

	cmd.AddCommand(
		newSubmitCommand(newClient),
		newWorkflowsCommand(newClient),
		newStepsCommand(newClient),
		newEventsCommand(newClient),
		newTasksCommand(newClient),
		newServersCommand(newClient),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

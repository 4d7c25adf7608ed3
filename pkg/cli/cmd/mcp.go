/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"

	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/conn"
	"github.com/echomind/echomind/pkg/mcpserver"
	"github.com/echomind/echomind/pkg/utils/signal"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve memory tools over MCP stdio",
	Long: `Expose memory_search, memory_status and soulprint_get as MCP tools
over stdio, for use from MCP-capable assistants. Connects directly to
the database, so it needs the same configuration as the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		baseCtx, cancel := signal.SetupContext()
		defer cancel()

		if err := conn.InitDB(baseCtx, config.GetConfigManager().GetConfig().DB); err != nil {
			return fmt.Errorf("failed to initialize database connection: %w", err)
		}

		return mcpserver.Run()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

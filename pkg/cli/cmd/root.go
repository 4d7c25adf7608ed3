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
	"os"

	"github.com/echomind/echomind/pkg/cli/api"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	baseURL  string
	userFlag string
)

var rootCmd = &cobra.Command{
	Use:   "echomind",
	Short: "Long-term conversational memory for your AI assistant",
	Long: `echomind imports your chat export, distills a personality profile
and builds a searchable long-term memory served over HTTP and MCP.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "CLI config file (default $HOME/.echomind/cli-config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "server", "", "server base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "acting user ID (overrides config)")
}

func resolveUserID() (uuid.UUID, error) {
	raw := userFlag
	if raw == "" {
		raw = GetCLIConfig().UserID
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("no user ID configured: set userId in the CLI config or pass --user")
	}

	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid user ID %q", raw)
	}
	return userID, nil
}

func GetClient() (*api.Client, error) {
	cfg := GetCLIConfig()

	userID, err := resolveUserID()
	if err != nil {
		return nil, err
	}

	url := cfg.BaseURL
	if baseURL != "" {
		url = baseURL
	}

	if cfg.Username != "" && cfg.Password != "" {
		return api.NewClientWithAuth(url, userID, cfg.Username, cfg.Password), nil
	}
	return api.NewClient(url, userID), nil
}

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

	"github.com/charmbracelet/lipgloss"
	"github.com/echomind/echomind/pkg/models"
	"github.com/spf13/cobra"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(18)
	readyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	buildStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory build status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}

		status, err := c.MemoryStatus()
		if err != nil {
			return err
		}

		memoryState := buildStyle.Render(string(status.MemoryStatus))
		if status.MemoryStatus == models.MemoryReady {
			memoryState = readyStyle.Render(string(status.MemoryStatus))
		}

		fmt.Println(labelStyle.Render("Memory:") + memoryState)
		fmt.Println(labelStyle.Render("Import:") + string(status.Status))
		fmt.Println(labelStyle.Render("Embedding:") + fmt.Sprintf("%s (%d%%)", status.EmbeddingStatus, status.ProgressPercent))
		fmt.Println(labelStyle.Render("Chunks:") + fmt.Sprintf("%d/%d", status.ProcessedChunks, status.TotalChunks))
		fmt.Println(labelStyle.Render("Soulprint:") + fmt.Sprintf("%t", status.HasSoulprint))

		verbose, _ := cmd.Flags().GetBool("verbose")
		if !verbose {
			return nil
		}

		health, err := c.EmbeddingHealth()
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println(labelStyle.Render("Provider:") + health.Model)
		fmt.Println(labelStyle.Render("Breaker:") + health.Breaker.State)
		if health.Breaker.ConsecutiveFailures > 0 {
			fmt.Println(labelStyle.Render("Failures:") + fmt.Sprintf("%d", health.Breaker.ConsecutiveFailures))
		}
		if health.Breaker.CooldownRemaining > 0 {
			fmt.Println(labelStyle.Render("Cooldown:") + health.Breaker.CooldownRemaining.String())
		}
		fmt.Println(labelStyle.Render("API calls:") + fmt.Sprintf("%d (%d tokens, ~$%.4f)", health.Usage.Calls, health.Usage.Tokens, health.Usage.EstimatedCost))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolP("verbose", "v", false, "Include embedding provider health")
}

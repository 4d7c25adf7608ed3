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
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/echomind/echomind/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	scoreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search your memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}

		topK, _ := cmd.Flags().GetInt("top")

		result, err := c.Search(strings.Join(args, " "), topK)
		if err != nil {
			return err
		}

		if result.Degraded {
			fmt.Println(degradedStyle.Render("Embedding provider unavailable, showing recent memories instead."))
			fmt.Println()
		}

		if len(result.Chunks) == 0 {
			fmt.Println("No memories matched.")
			return nil
		}

		for i, scored := range result.Chunks {
			header := fmt.Sprintf("%d. %s", i+1, scored.Chunk.Title)
			if scored.Score > 0 {
				header += scoreStyle.Render(fmt.Sprintf("  (%.3f)", scored.Score))
			}
			fmt.Println(titleStyle.Render(header))
			fmt.Printf("   %s · %d messages\n", scored.Chunk.OriginalCreatedAt.Format("2006-01-02"), scored.Chunk.MessageCount)

			content := scored.Chunk.Content
			if len(content) > 400 {
				content = utils.TruncateUTF8(content, 400) + "…"
			}
			for _, line := range strings.Split(content, "\n") {
				fmt.Printf("   %s\n", line)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Int("top", 0, "Number of results (0 = server default)")
}

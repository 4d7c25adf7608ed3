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

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage stored memory",
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete [chunk-id...]",
	Short: "Delete stored memory chunks",
	Long: `Delete the named memory chunks, or every chunk for the configured
user when no IDs are given. The soulprint profile is kept; re-import a
chat export to rebuild the memory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}

		chunkIDs := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("invalid chunk ID %q", arg)
			}
			chunkIDs = append(chunkIDs, id)
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && len(chunkIDs) == 0 {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to delete everything without confirmation, pass --yes")
			}

			var confirm bool
			err := huh.NewConfirm().
				Title("Delete all stored memories?").
				Description("This removes every memory chunk. The soulprint profile is kept.").
				Value(&confirm).
				Run()
			if err != nil {
				return err
			}
			if !confirm {
				fmt.Println("Cancelled")
				return nil
			}
		}

		result, err := c.DeleteMemory(chunkIDs...)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d memory chunks\n", result.DeletedChunks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)

	memoryCmd.AddCommand(memoryDeleteCmd)
	memoryDeleteCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}

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

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List import jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}

		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		result, err := c.ListImportJobs(page, pageSize)
		if err != nil {
			return err
		}

		if len(result.Data) == 0 {
			fmt.Println("No import jobs found")
			return nil
		}

		for _, job := range result.Data {
			line := fmt.Sprintf("%s  %-11s  %d/%d chunks", job.ID, job.Status, job.ProcessedChunks, job.TotalChunks)
			if job.SkippedChunks > 0 {
				line += fmt.Sprintf(" (%d skipped)", job.SkippedChunks)
			}
			if job.Error != "" {
				line += "  " + job.Error
			}
			fmt.Println(line)
		}
		fmt.Printf("Total: %d, Page: %d/%d\n", result.Total, result.Page, (result.Total+int64(result.PageSize)-1)/int64(result.PageSize))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().Int("page", 1, "Page number")
	jobsCmd.Flags().Int("page-size", 10, "Page size")
}

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
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/echomind/echomind/pkg/cli/api"
	"github.com/echomind/echomind/pkg/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var importCmd = &cobra.Command{
	Use:   "import <export-file>",
	Short: "Import a chat export and build your memory",
	Long: `Upload a conversations.json export, run the quick import pass and
watch the background embedding progress until the memory is ready.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}

		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open export file: %w", err)
		}
		defer file.Close()

		job, err := c.CreateImportJob()
		if err != nil {
			return fmt.Errorf("failed to create import job: %w", err)
		}

		fmt.Printf("Created import job %s\n", job.ID)

		if _, err := c.UploadExport(job.ID, file); err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		if _, err := c.ProcessImport(job.ID); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return watchPlain(c, job.ID)
		}

		m := newImportModel(c, job.ID)
		final, err := tea.NewProgram(m).Run()
		if err != nil {
			return err
		}

		if fm, ok := final.(importModel); ok {
			if fm.err != nil {
				return fm.err
			}
			if fm.failure != "" {
				return fmt.Errorf("import failed: %s", fm.failure)
			}
			if !fm.info.IsComplete {
				fmt.Println("Import continues in the background. Run 'echomind status' to check on it.")
			}
		}
		return nil
	},
}

// watchPlain is the non-TTY fallback: one status line per poll.
func watchPlain(c *api.Client, jobID uuid.UUID) error {
	lastPercent := 0
	for {
		job, err := c.ImportStatus(jobID)
		if err != nil {
			return err
		}
		status, err := c.MemoryStatus()
		if err != nil {
			return err
		}

		info := mapProgress(overallPercent(job, status), string(job.Status), lastPercent)
		lastPercent = info.DisplayPercent
		fmt.Printf("%3d%% %s\n", info.DisplayPercent, info.StageLabel)

		if job.Status == models.ImportJobFailed {
			return fmt.Errorf("import failed: %s", job.Error)
		}
		if info.IsComplete {
			fmt.Println("Memory is ready.")
			return nil
		}
		time.Sleep(2 * time.Second)
	}
}

// overallPercent folds the job state machine and the embedding progress
// into a single 0-100 number matching the display stages.
func overallPercent(job *models.ImportJobDto, status *models.MemoryStatusDto) int {
	switch job.Status {
	case models.ImportJobPending:
		return 5
	case models.ImportJobUploading:
		return 25
	case models.ImportJobProcessing:
		return 50
	case models.ImportJobQuickReady:
		return 60 + status.ProgressPercent*40/100
	case models.ImportJobComplete:
		return 100
	default:
		return 0
	}
}

var (
	stageDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stageActiveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	stagePendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type statusMsg struct {
	job    *models.ImportJobDto
	status *models.MemoryStatusDto
}

type statusErrMsg struct{ err error }

type pollTickMsg struct{}

type importModel struct {
	client  *api.Client
	jobID   uuid.UUID
	spinner spinner.Model
	bar     progress.Model
	info    StageInfo
	failure string
	err     error
}

func newImportModel(c *api.Client, jobID uuid.UUID) importModel {
	sp := spinner.New()
	sp.Spinner = spinner.Line

	return importModel{
		client:  c,
		jobID:   jobID,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient()),
	}
}

func (m importModel) pollStatus() tea.Msg {
	job, err := m.client.ImportStatus(m.jobID)
	if err != nil {
		return statusErrMsg{err: err}
	}
	status, err := m.client.MemoryStatus()
	if err != nil {
		return statusErrMsg{err: err}
	}
	return statusMsg{job: job, status: status}
}

func (m importModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.pollStatus)
}

func (m importModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case statusMsg:
		m.info = mapProgress(overallPercent(msg.job, msg.status), string(msg.job.Status), m.info.DisplayPercent)
		if msg.job.Status == models.ImportJobFailed {
			m.failure = msg.job.Error
			return m, tea.Quit
		}
		if m.info.IsComplete {
			return m, tea.Quit
		}
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return pollTickMsg{}
		})

	case pollTickMsg:
		return m, m.pollStatus

	case statusErrMsg:
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m importModel) View() string {
	var b strings.Builder

	for i, stage := range importStages {
		switch {
		case i < m.info.StageIndex || m.info.IsComplete:
			b.WriteString(stageDoneStyle.Render("  ✓ " + stage.name))
		case i == m.info.StageIndex:
			b.WriteString(stageActiveStyle.Render("  " + m.spinner.View() + " " + stage.name))
		default:
			b.WriteString(stagePendingStyle.Render("    " + stage.name))
		}
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString("  " + m.bar.ViewAs(float64(m.info.DisplayPercent)/100))
	b.WriteByte('\n')
	b.WriteString("  " + m.info.StageLabel)
	b.WriteByte('\n')

	if m.info.SafeToClose && !m.info.IsComplete {
		b.WriteString(hintStyle.Render("  Safe to close: embedding continues on the server. Press q to exit."))
		b.WriteByte('\n')
	}

	return b.String()
}

func init() {
	rootCmd.AddCommand(importCmd)
}

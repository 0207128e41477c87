// Package ui renders the live task execution view.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pcagent/internal/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	borderStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a3850")).
			Padding(0, 1)
)

// Executor runs one instruction; the orchestrator satisfies it.
type Executor interface {
	ExecuteTask(ctx context.Context, instruction string) (*types.ExecutionResult, error)
}

type progressMsg types.ProgressUpdate

type doneMsg struct {
	result *types.ExecutionResult
	err    error
}

type model struct {
	instruction string
	spin        spinner.Model
	view        viewport.Model
	lines       []string
	updates     <-chan types.ProgressUpdate
	result      *types.ExecutionResult
	err         error
	done        bool
}

func newModel(instruction string, updates <-chan types.ProgressUpdate) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	return model{
		instruction: instruction,
		spin:        s,
		view:        viewport.New(80, 12),
		updates:     updates,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForUpdate(m.updates))
}

func waitForUpdate(updates <-chan types.ProgressUpdate) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return nil
		}
		return progressMsg(update)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width - 4
		m.view.Height = msg.Height - 8
	case progressMsg:
		m.lines = append(m.lines, formatUpdate(types.ProgressUpdate(msg)))
		m.view.SetContent(strings.Join(m.lines, "\n"))
		m.view.GotoBottom()
		return m, waitForUpdate(m.updates)
	case doneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("pcagent") + " " + dimStyle.Render(m.instruction) + "\n\n")
	b.WriteString(borderStyle.Render(m.view.View()) + "\n")
	if m.done {
		b.WriteString(Summary(m.result, m.err) + "\n")
	} else {
		b.WriteString(m.spin.View() + " executing...\n")
	}
	return b.String()
}

func formatUpdate(u types.ProgressUpdate) string {
	line := fmt.Sprintf("%s step %d: %s", shortID(u.SubtaskID), u.StepNumber, u.Action)
	if u.Result != "" {
		line += " - " + u.Result
	}
	switch u.Status {
	case types.StatusFailed:
		return failStyle.Render(line)
	case types.StatusCompleted:
		return successStyle.Render(line)
	case types.StatusSkipped:
		return dimStyle.Render(line)
	default:
		return stepStyle.Render(line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run executes the instruction while rendering live progress. subscribe
// attaches the update channel before execution starts.
func Run(ctx context.Context, exec Executor, subscribe func(chan<- types.ProgressUpdate), instruction string) (*types.ExecutionResult, error) {
	updates := make(chan types.ProgressUpdate, 256)
	subscribe(updates)

	p := tea.NewProgram(newModel(instruction, updates), tea.WithContext(ctx))

	go func() {
		result, err := exec.ExecuteTask(ctx, instruction)
		p.Send(doneMsg{result: result, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(model)
	if m.result == nil && m.err == nil {
		return nil, fmt.Errorf("execution interrupted")
	}
	return m.result, m.err
}

// Summary renders the post-run result table.
func Summary(result *types.ExecutionResult, err error) string {
	if result == nil {
		if err != nil {
			return failStyle.Render("execution failed: " + err.Error())
		}
		return ""
	}

	status := successStyle.Render("SUCCESS")
	if !result.Success {
		status = failStyle.Render("FAILED")
	}

	rows := [][2]string{
		{"Status", status},
		{"Subtasks", fmt.Sprintf("%d", len(result.SubtaskResults))},
		{"Total cost", fmt.Sprintf("$%.4f", result.TotalCost)},
		{"Duration", result.TotalTime.Round(10 * time.Millisecond).String()},
	}
	if result.ErrorMessage != "" {
		rows = append(rows, [2]string{"Error", result.ErrorMessage})
	}
	for model, count := range result.ModelsUsed {
		rows = append(rows, [2]string{"Model " + model, fmt.Sprintf("%d calls", count)})
	}

	var b strings.Builder
	label := lipgloss.NewStyle().Bold(true).Width(14)
	for _, row := range rows {
		b.WriteString(label.Render(row[0]) + " " + row[1] + "\n")
	}
	return borderStyle.Render(strings.TrimRight(b.String(), "\n"))
}

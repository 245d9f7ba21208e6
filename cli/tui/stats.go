package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tabularun/tabularun/telemetry"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_telemetry":
		content = m.renderStatsTelemetry()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsTelemetry() string {
	snap, ok := m.data.(*telemetry.Snapshot)
	if !ok {
		return "Invalid data type for stats_telemetry"
	}

	var sections []string

	sections = append(sections, TitleStyle.Render("Run Outcomes"))
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Started", int(snap.RunsStarted), highlightColor),
		m.renderStatBox("Succeeded", int(snap.RunsSucceeded), successColor),
		m.renderStatBox("Failed", int(snap.RunsFailed), errorColor),
		m.renderStatBox("Rejected", int(snap.RunsRejected), warningColor),
		m.renderStatBox("Timed Out", int(snap.RunsTimedOut), errorColor),
		m.renderStatBox("Not Found", int(snap.RunsNotFound), mutedColor),
	))

	sections = append(sections, TitleStyle.Render("Policy Checks"))
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("SQL Passed", int(snap.SQLPassed), successColor),
		m.renderStatBox("SQL Rejected", int(snap.SQLRejected), errorColor),
		m.renderStatBox("Plan Passed", int(snap.PlanPassed), successColor),
		m.renderStatBox("Plan Rejected", int(snap.PlanRejected), errorColor),
		m.renderStatBox("Py Passed", int(snap.PythonPassed), successColor),
		m.renderStatBox("Py Rejected", int(snap.PythonRejected), errorColor),
	))

	sections = append(sections, TitleStyle.Render("Backend Health"))
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Exec OK", int(snap.ExecutorSubmitSuccess), successColor),
		m.renderStatBox("Exec Fail", int(snap.ExecutorSubmitFailure), errorColor),
		m.renderStatBox("Capsule OK", int(snap.CapsuleWriteSuccess), successColor),
		m.renderStatBox("Capsule Fail", int(snap.CapsuleWriteFailure), errorColor),
	))

	content := lipgloss.JoinVertical(lipgloss.Left, sections...)
	return BoxStyle.Render(content)
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

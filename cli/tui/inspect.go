package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tabularun/tabularun/types"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_dataset":
		content = m.renderInspectDataset()
	case "inspect_capsule":
		content = m.renderInspectCapsule()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectDataset() string {
	data, ok := m.data.(*types.DatasetDescriptor)
	if !ok {
		return "Invalid data type for inspect_dataset"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Dataset Details"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("ID:"), ValueStyle.Render(data.ID)))
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Name:"), ValueStyle.Render(data.Name)))
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Version:"), ValueStyle.Render(data.VersionHash)))

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("Files"))
	b.WriteString("\n")
	for _, f := range data.Files {
		b.WriteString(fmt.Sprintf("  • %s", ValueStyle.Render(f.Name)))
		if len(f.Schema) > 0 {
			cols := make([]string, len(f.Schema))
			for i, col := range f.Schema {
				cols[i] = fmt.Sprintf("%s:%s", col.Column, col.Type)
			}
			b.WriteString(fmt.Sprintf(" (%s)", strings.Join(cols, ", ")))
		}
		b.WriteString("\n")
	}

	if len(data.ExamplePrompts) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Example Prompts"))
		b.WriteString("\n")
		for _, p := range data.ExamplePrompts {
			b.WriteString(fmt.Sprintf("  • %s\n", ValueStyle.Render(p)))
		}
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderInspectCapsule() string {
	data, ok := m.data.(*types.RunCapsule)
	if !ok {
		return "Invalid data type for inspect_capsule"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Capsule"))
	b.WriteString("\n\n")

	rows := [][2]string{
		{"Run ID", data.RunID},
		{"Dataset", data.DatasetID},
		{"Thread", data.ThreadID},
		{"Query Mode", string(data.QueryMode)},
		{"Status", string(data.Status)},
		{"Created At", data.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Exec Time", fmt.Sprintf("%dms", data.ExecTimeMs)},
	}
	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "Status" {
			b.WriteString(fmt.Sprintf("%s %s\n", label, StateStyle(value).Render(value)))
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, ValueStyle.Render(value)))
	}

	if data.CompiledSQL != "" {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s\n%s\n", LabelStyle.Render("SQL:"), ValueStyle.Render(data.CompiledSQL)))
	}
	if data.PythonCode != "" {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s\n%s\n", LabelStyle.Render("Python:"), ValueStyle.Render(data.PythonCode)))
	}
	if data.Result != nil {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Rows:"),
			ValueStyle.Render(fmt.Sprintf("%d (columns: %s)", data.Result.RowCount, strings.Join(data.Result.Columns, ", ")))))
	}
	if data.Error != nil {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Error:"),
			ErrorStyle.Render(fmt.Sprintf("%s: %s", data.Error.Type, data.Error.Message))))
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

package components

import (
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/serialconsole/internal/tui/styles"
)

// PortEntry is one row of the port picker.
type PortEntry struct {
	Name        string
	Description string
}

// PortTable lets the user pick a port from the refreshed list.
type PortTable struct {
	table   table.Model
	entries []PortEntry
}

func NewPortTable(width, height int) *PortTable {
	t := table.New(
		table.WithColumns(portColumns(width)),
		table.WithFocused(true),
		table.WithHeight(max(height, 3)),
		table.WithWidth(width),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Subtext0).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.Text)
	s.Selected = s.Selected.
		Foreground(styles.Text).
		Background(styles.Surface1).
		Bold(false)
	t.SetStyles(s)

	return &PortTable{table: t}
}

func portColumns(width int) []table.Column {
	nameWidth := 40
	descWidth := width - nameWidth - 4
	if descWidth < 20 {
		descWidth = 20
	}
	return []table.Column{
		{Title: "Port", Width: nameWidth},
		{Title: "Description", Width: descWidth},
	}
}

func (pt *PortTable) SetSize(width, height int) {
	pt.table.SetColumns(portColumns(width))
	pt.table.SetWidth(width)
	pt.table.SetHeight(max(height, 3))
	pt.table.UpdateViewport()
}

// SetEntries replaces the rows, keeping the cursor on current when it is
// still listed.
func (pt *PortTable) SetEntries(entries []PortEntry, current string) {
	pt.entries = entries
	rows := make([]table.Row, len(entries))
	cursor := 0
	for i, e := range entries {
		rows[i] = table.Row{e.Name, e.Description}
		if e.Name == current {
			cursor = i
		}
	}
	pt.table.SetRows(rows)
	pt.table.SetCursor(cursor)
}

// Selected returns the highlighted port, or "" when the list is empty.
func (pt *PortTable) Selected() string {
	row := pt.table.SelectedRow()
	if row == nil {
		return ""
	}
	return row[0]
}

func (pt *PortTable) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	pt.table, cmd = pt.table.Update(msg)
	return cmd
}

func (pt *PortTable) View() string {
	if len(pt.entries) == 0 {
		return lipgloss.NewStyle().Foreground(styles.Overlay0).Render("No serial ports found")
	}
	return pt.table.View()
}

package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/tui/styles"
)

// Status is what the status bar shows.
type Status struct {
	Insert      bool
	SendingMode SendingMode
	DisplayMode DisplayMode
	Port        string
	State       string // link state name
	Config      serial.PortConfig
	Reconnect   bool
	Echo        bool
	Logging     bool
	Notice      string
	Flash       bool
	Clock       string
}

type StatusBar struct {
	width int
}

func NewStatusBar() *StatusBar {
	return &StatusBar{}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func stateGlyph(state string) string {
	switch state {
	case "open":
		return "●"
	case "reconnecting":
		return "◌"
	default:
		return "○"
	}
}

// flags renders the toggles as "R E L", dimming the ones that are off.
func flags(s Status) string {
	parts := make([]string, 0, 3)
	for _, f := range []struct {
		on    bool
		label string
	}{
		{s.Reconnect, "R"},
		{s.Echo, "E"},
		{s.Logging, "L"},
	} {
		color := styles.Surface2
		if f.on {
			color = styles.Green
		}
		parts = append(parts, lipgloss.NewStyle().Foreground(color).Render(f.label))
	}
	return strings.Join(parts, " ")
}

func (sb *StatusBar) View(s Status) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeText := "NORMAL"
	if s.Insert {
		modeText = "INSERT"
	}
	mode := styles.ModeStyle(s.Insert).Render(modeText)

	portName := s.Port
	if portName == "" {
		portName = "no port"
	}
	port := styles.PortStyle.Render(portName)
	indicator := lipgloss.NewStyle().Foreground(styles.StateColor(s.State)).Render(stateGlyph(s.State) + " " + s.State)
	divider := styles.DividerStyle.Render("│")

	left := []string{mode, port, indicator, divider}
	if s.Insert {
		left = append(left, lipgloss.NewStyle().Foreground(styles.Peach).Bold(true).Padding(0, 1).
			Render(fmt.Sprintf("[%s] Tab to toggle", s.SendingMode)))
	}
	if s.Notice != "" {
		left = append(left, styles.NoticeStyle.Render(s.Notice))
	}
	leftSide := lipgloss.JoinHorizontal(lipgloss.Left, left...)

	details := styles.DetailStyle.Render(fmt.Sprintf("⚡ %s %s %s",
		s.Config.LineString(), s.Config.FlowControl, s.DisplayMode))
	rightSide := lipgloss.JoinHorizontal(lipgloss.Left,
		details, divider, flags(s), divider,
		lipgloss.NewStyle().Foreground(styles.Subtext1).Padding(0, 1).Render(s.Clock))

	spacerWidth := width - lipgloss.Width(leftSide) - lipgloss.Width(rightSide)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	bar := styles.StatusBarStyle
	if s.Flash {
		bar = styles.FlashStyle
	}
	return bar.Width(width).Render(lipgloss.JoinHorizontal(lipgloss.Left, leftSide, spacer, rightSide))
}

// Package styles holds the console's colors and lipgloss styles.
package styles

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha.
var (
	Base     = lipgloss.Color("#1e1e2e")
	Surface0 = lipgloss.Color("#313244")
	Surface1 = lipgloss.Color("#45475a")
	Surface2 = lipgloss.Color("#585b70")
	Overlay0 = lipgloss.Color("#6c7086")
	Subtext0 = lipgloss.Color("#a6adc8")
	Subtext1 = lipgloss.Color("#bac2de")
	Text     = lipgloss.Color("#cdd6f4")

	Blue   = lipgloss.Color("#89b4fa")
	Sky    = lipgloss.Color("#89dceb")
	Green  = lipgloss.Color("#a6e3a1")
	Yellow = lipgloss.Color("#f9e2af")
	Peach  = lipgloss.Color("#fab387")
	Red    = lipgloss.Color("#f38ba8")
	Mauve  = lipgloss.Color("#cba6f7")
)

var (
	// Terminal text
	RXStyle   = lipgloss.NewStyle().Foreground(Text)
	EchoStyle = lipgloss.NewStyle().Foreground(Peach)
	InfoStyle = lipgloss.NewStyle().Foreground(Overlay0)

	TimestampStyle = lipgloss.NewStyle().Foreground(Subtext0)
	RXTagStyle     = lipgloss.NewStyle().Foreground(Sky).Bold(true)
	TXTagStyle     = lipgloss.NewStyle().Foreground(Peach).Bold(true)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Surface2).
			Padding(0, 1)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(Text).
			Background(Surface0)

	FlashStyle = lipgloss.NewStyle().
			Foreground(Base).
			Background(Red)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true).
			Padding(0, 1)

	PortStyle = lipgloss.NewStyle().
			Foreground(Mauve).
			Bold(true).
			Padding(0, 1)

	DetailStyle = lipgloss.NewStyle().
			Foreground(Subtext0).
			Padding(0, 1)

	DividerStyle = lipgloss.NewStyle().
			Foreground(Surface2).
			Padding(0, 1)
)

// ModeStyle renders the NORMAL/INSERT block.
func ModeStyle(insert bool) lipgloss.Style {
	bg := Blue
	if insert {
		bg = Green
	}
	return lipgloss.NewStyle().
		Foreground(Base).
		Background(bg).
		Bold(true).
		Padding(0, 1)
}

// StateColor is the indicator color for a link state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "open":
		return Green
	case "reconnecting":
		return Yellow
	default:
		return Red
	}
}

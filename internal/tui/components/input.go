package components

import (
	"encoding/hex"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/allbin/serialconsole/internal/tui/styles"
)

const historySize = 100

type SendingMode int

const (
	SendingModeText SendingMode = iota
	SendingModeHex
)

func (s SendingMode) String() string {
	if s == SendingModeHex {
		return "HEX"
	}
	return "TEXT"
}

// ParseHex converts "48 65 6C", "48656C" or "0x48 0x65" to bytes.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "\t", "", "0x", "", "0X", "", ":", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return nil, errors.New("empty input")
	}
	if len(clean)%2 != 0 {
		return nil, errors.Errorf("hex string must have an even number of digits (got %d)", len(clean))
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex")
	}
	return data, nil
}

// Input is the single-line send field with history.
type Input struct {
	textInput     textinput.Model
	sendingMode   SendingMode
	lineEnding    string
	history       []string
	historyIndex  int
	currentInput  string // kept while browsing history
	terminalWidth int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.CharLimit = 1024
	ti.Prompt = ""

	i := &Input{
		textInput:    ti,
		lineEnding:   "\n",
		historyIndex: -1,
	}
	i.setPlaceholder()
	return i
}

func (i *Input) setPlaceholder() {
	if i.sendingMode == SendingModeHex {
		i.textInput.Placeholder = "Enter hex (e.g. 48656C6C6F or 48 65 6C 6C 6F)..."
	} else {
		i.textInput.Placeholder = "Type and press Enter to send..."
	}
}

func (i *Input) SetWidth(width int) {
	i.terminalWidth = width
	// border(2) + padding(2) + prompt(1) + space(1)
	usable := width - 6
	if usable < 20 {
		usable = 20
	}
	i.textInput.Width = usable
}

func (i *Input) Focus() {
	i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) SetValue(value string) {
	i.textInput.SetValue(value)
}

func (i *Input) ToggleSendingMode() {
	if i.sendingMode == SendingModeText {
		i.sendingMode = SendingModeHex
	} else {
		i.sendingMode = SendingModeText
	}
	i.setPlaceholder()
}

func (i *Input) SendingMode() SendingMode {
	return i.sendingMode
}

// Payload returns the bytes to send for the current value. Text gets the
// line ending appended; hex is sent exactly as parsed.
func (i *Input) Payload() ([]byte, error) {
	value := i.textInput.Value()
	if i.sendingMode == SendingModeHex {
		return ParseHex(value)
	}
	return []byte(value + i.lineEnding), nil
}

func (i *Input) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return cmd
}

func (i *Input) View(insert bool) string {
	symbol, color := ">", styles.Green
	if i.sendingMode == SendingModeHex {
		symbol, color = "#", styles.Yellow
	}
	prompt := lipgloss.NewStyle().Foreground(color).Bold(true).Render(symbol)

	var content string
	if insert {
		content = lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", i.textInput.View())
	} else {
		hint := lipgloss.NewStyle().Foreground(styles.Overlay0).Render("Press 'i' to type")
		content = lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", hint)
	}

	// RoundedBorder and Padding(0, 1) take four columns.
	width := i.terminalWidth - 4
	if width < 10 {
		width = 10
	}
	style := styles.InputStyle.Width(width)
	if insert {
		style = style.BorderForeground(styles.Green)
	}
	return style.Render(content)
}

// AddToHistory records a sent line, skipping blanks and repeats.
func (i *Input) AddToHistory(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if n := len(i.history); n > 0 && i.history[n-1] == line {
		return
	}
	i.history = append(i.history, line)
	if len(i.history) > historySize {
		i.history = i.history[1:]
	}
	i.historyIndex = -1
	i.currentInput = ""
}

func (i *Input) HistoryUp() {
	if len(i.history) == 0 {
		return
	}
	if i.historyIndex == -1 {
		i.currentInput = i.textInput.Value()
		i.historyIndex = len(i.history) - 1
	} else if i.historyIndex > 0 {
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

func (i *Input) HistoryDown() {
	if i.historyIndex == -1 {
		return
	}
	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
		return
	}
	i.historyIndex = -1
	i.textInput.SetValue(i.currentInput)
	i.currentInput = ""
}

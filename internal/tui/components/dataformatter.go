package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/text/encoding/unicode"

	"github.com/allbin/serialconsole/internal/tui/styles"
)

// Direction tells where a chunk of terminal content came from.
type Direction int

const (
	RX   Direction = iota // read from the device
	TX                    // typed locally, shown when echo is on
	Info                  // console messages such as "Connected to X"
)

// Chunk is one piece of terminal content.
type Chunk struct {
	Time time.Time
	Dir  Direction
	Data []byte
}

type DisplayMode int

const (
	DisplayText DisplayMode = iota
	DisplayHex
)

func (d DisplayMode) String() string {
	if d == DisplayHex {
		return "HEX"
	}
	return "TEXT"
}

// DataFormatter renders chunks as display lines. Text mode shows the byte
// stream the way a terminal would; hex mode shows one timestamped line per
// chunk.
type DataFormatter struct {
	mode DisplayMode
}

func NewDataFormatter(mode DisplayMode) *DataFormatter {
	return &DataFormatter{mode: mode}
}

func (df *DataFormatter) Mode() DisplayMode {
	return df.mode
}

func (df *DataFormatter) ToggleMode() {
	if df.mode == DisplayText {
		df.mode = DisplayHex
	} else {
		df.mode = DisplayText
	}
}

func (df *DataFormatter) Format(chunks []Chunk) []string {
	if df.mode == DisplayHex {
		return formatHex(chunks)
	}
	return formatText(chunks)
}

func infoLine(text string) string {
	return styles.InfoStyle.Render("--- " + text + " ---")
}

func formatText(chunks []Chunk) []string {
	var (
		lines []string
		line  strings.Builder
		run   []byte
		dir   Direction
	)

	// Consecutive chunks from the same side are decoded together so runes
	// and escape sequences split across reads stay intact.
	emit := func() {
		if len(run) == 0 {
			return
		}
		style := styles.RXStyle
		if dir == TX {
			style = styles.EchoStyle
		}
		for i, part := range strings.Split(cleanText(run), "\n") {
			if i > 0 {
				lines = append(lines, line.String())
				line.Reset()
			}
			if part != "" {
				line.WriteString(style.Render(part))
			}
		}
		run = run[:0]
	}

	for _, c := range chunks {
		if c.Dir == Info {
			emit()
			if line.Len() > 0 {
				lines = append(lines, line.String())
				line.Reset()
			}
			lines = append(lines, infoLine(string(c.Data)))
			continue
		}
		if c.Dir != dir {
			emit()
			dir = c.Dir
		}
		run = append(run, c.Data...)
	}
	emit()
	return append(lines, line.String())
}

// cleanText decodes data as UTF-8, replacing invalid bytes with U+FFFD, and
// drops escape sequences and control characters other than newline and
// tab.
func cleanText(data []byte) string {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		decoded = data
	}
	text := strings.ReplaceAll(ansi.Strip(string(decoded)), "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, text)
}

func formatHex(chunks []Chunk) []string {
	lines := make([]string, 0, len(chunks))
	for _, c := range chunks {
		timestamp := styles.TimestampStyle.Render(fmt.Sprintf("[%s]", c.Time.Format("15:04:05.000")))

		var indicator lipgloss.Style
		var tag string
		switch c.Dir {
		case Info:
			lines = append(lines, timestamp+" "+infoLine(string(c.Data)))
			continue
		case TX:
			indicator, tag = styles.TXTagStyle, "↗ TX"
		default:
			indicator, tag = styles.RXTagStyle, "↙ RX"
		}

		lines = append(lines, fmt.Sprintf("%s %s: HEX: % X  ASCII: %s",
			timestamp, indicator.Render(tag), c.Data, printable(c.Data)))
	}
	return lines
}

// printable replaces everything outside printable ASCII with dots.
func printable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// MaxChunks bounds the scrollback.
const MaxChunks = 5000

// Terminal is the scrolling console view.
type Terminal struct {
	viewport  viewport.Model
	formatter *DataFormatter
	chunks    []Chunk
	maxChunks int
	lines     []string
	follow    bool
}

func NewTerminal(width, height int) *Terminal {
	return &Terminal{
		viewport:  viewport.New(width, height),
		formatter: NewDataFormatter(DisplayText),
		maxChunks: MaxChunks,
		follow:    true,
	}
}

func (t *Terminal) SetSize(width, height int) {
	t.viewport.Width = width
	t.viewport.Height = height
	t.refresh()
}

func (t *Terminal) Width() int {
	return t.viewport.Width
}

// Append adds a chunk. Empty data chunks are ignored.
func (t *Terminal) Append(c Chunk) {
	if len(c.Data) == 0 {
		return
	}
	t.chunks = append(t.chunks, c)
	if over := len(t.chunks) - t.maxChunks; over > 0 {
		t.chunks = append(t.chunks[:0], t.chunks[over:]...)
	}
	t.refresh()
}

// AppendInfo adds a console message line.
func (t *Terminal) AppendInfo(text string, at time.Time) {
	t.Append(Chunk{Time: at, Dir: Info, Data: []byte(text)})
}

func (t *Terminal) Clear() {
	t.chunks = nil
	t.refresh()
}

func (t *Terminal) ToggleMode() {
	t.formatter.ToggleMode()
	t.refresh()
}

func (t *Terminal) Mode() DisplayMode {
	return t.formatter.Mode()
}

// Lines returns the rendered content.
func (t *Terminal) Lines() []string {
	return t.lines
}

func (t *Terminal) refresh() {
	t.lines = t.formatter.Format(t.chunks)
	t.viewport.SetContent(strings.Join(t.lines, "\n"))
	if t.follow {
		t.viewport.GotoBottom()
	}
}

// Following reports whether new content scrolls the view.
func (t *Terminal) Following() bool {
	return t.follow
}

func (t *Terminal) ScrollUp(n int) {
	t.viewport.LineUp(n)
	t.follow = t.viewport.AtBottom()
}

func (t *Terminal) ScrollDown(n int) {
	t.viewport.LineDown(n)
	t.follow = t.viewport.AtBottom()
}

func (t *Terminal) GotoTop() {
	t.viewport.GotoTop()
	t.follow = t.viewport.AtBottom()
}

func (t *Terminal) GotoBottom() {
	t.viewport.GotoBottom()
	t.follow = true
}

func (t *Terminal) Update(msg tea.Msg) tea.Cmd {
	// Keys are handled by the owning model; only pass mouse wheel events.
	if _, ok := msg.(tea.MouseMsg); !ok {
		return nil
	}
	var cmd tea.Cmd
	t.viewport, cmd = t.viewport.Update(msg)
	t.follow = t.viewport.AtBottom()
	return cmd
}

func (t *Terminal) View() string {
	return t.viewport.View()
}

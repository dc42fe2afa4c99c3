// Package models holds the bubbletea model of the interactive console.
package models

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/sessionlog"
	"github.com/allbin/serialconsole/internal/settings"
	"github.com/allbin/serialconsole/internal/tui/components"
	"github.com/allbin/serialconsole/internal/tui/keys"
	"github.com/allbin/serialconsole/internal/tui/styles"
	"github.com/allbin/serialconsole/link"
)

const (
	defaultRefreshInterval = time.Second
	defaultNoticeDuration  = 5 * time.Second
	flashDuration          = 150 * time.Millisecond
)

// BaudRates is the cycle of the baud key.
var BaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// InputMode is the vim-like editing mode.
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeInsert
)

func (m InputMode) String() string {
	if m == InputModeInsert {
		return "INSERT"
	}
	return "NORMAL"
}

// EventsMsg carries the events drained from the link in one wakeup.
type EventsMsg struct {
	Events []link.Event
}

// PortsMsg is the result of a port list refresh.
type PortsMsg struct {
	Entries []components.PortEntry
	Err     error
}

// SettingsMsg delivers reloaded settings.
type SettingsMsg struct {
	Settings settings.Settings
	Err      error
}

type (
	openResultMsg    struct{ err error }
	writeResultMsg   struct{ err error }
	noticeExpiredMsg struct{ id int }
	flashDoneMsg     struct{ id int }
)

// PortLister returns the ports to offer.
type PortLister func() ([]components.PortEntry, error)

// DriverPorts lists ports through d and describes them with
// serial.GetPortInfo.
func DriverPorts(d serial.Driver) PortLister {
	return func() ([]components.PortEntry, error) {
		names, err := d.ListPorts()
		if err != nil {
			return nil, err
		}
		entries := make([]components.PortEntry, len(names))
		for i, name := range names {
			entries[i] = components.PortEntry{Name: name}
			if info, err := serial.GetPortInfo(name); err == nil {
				entries[i].Description = info.Description
			}
		}
		return entries, nil
	}
}

// LogOpener opens a session log.
type LogOpener func(sessionlog.Config) (*sessionlog.Log, error)

// Option configures a Console.
type Option func(*Console)

func WithPortLister(lister PortLister) Option {
	return func(m *Console) {
		m.listPorts = lister
	}
}

func WithLogOpener(open LogOpener) Option {
	return func(m *Console) {
		m.openLog = open
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *Console) {
		m.logger = logger
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Console) {
		m.now = now
	}
}

// Console is the interactive serial console. It is the only consumer of
// its link's events.
type Console struct {
	link      *link.Link
	listPorts PortLister
	openLog   LogOpener
	logger    *zap.SugaredLogger
	now       func() time.Time

	settings settings.Settings
	state    link.State
	ports    []components.PortEntry

	log       *sessionlog.Log
	logCancel context.CancelFunc
	logDone   chan struct{}

	mode     InputMode
	picking  bool
	ready    bool
	notice   string
	noticeID int
	flash    bool
	flashID  int

	terminal  *components.Terminal
	input     *components.Input
	statusBar *components.StatusBar
	portTable *components.PortTable
	help      help.Model
	keys      keys.ConsoleKeys
}

// New builds a console for l. The link should already carry s through
// settings.Apply.
func New(l *link.Link, s settings.Settings, opts ...Option) *Console {
	m := &Console{
		link:      l,
		listPorts: DriverPorts(serial.SystemDriver),
		openLog: func(c sessionlog.Config) (*sessionlog.Log, error) {
			return sessionlog.Open(c)
		},
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
		settings:  s,
		state:     l.State(),
		terminal:  components.NewTerminal(0, 0),
		input:     components.NewInput(),
		statusBar: components.NewStatusBar(),
		portTable: components.NewPortTable(80, 10),
		help:      help.New(),
		keys:      keys.NewConsoleKeys(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WaitForEvents blocks until the link has events and returns them as an
// EventsMsg.
func WaitForEvents(l *link.Link) tea.Cmd {
	return func() tea.Msg {
		<-l.Ready()
		return EventsMsg{Events: l.Drain()}
	}
}

func (m *Console) refreshPorts(after time.Duration) tea.Cmd {
	list := m.listPorts
	return tea.Tick(after, func(time.Time) tea.Msg {
		entries, err := list()
		return PortsMsg{Entries: entries, Err: err}
	})
}

func (m *Console) Init() tea.Cmd {
	cmds := []tea.Cmd{WaitForEvents(m.link), m.refreshPorts(0)}
	if m.settings.LogEnable {
		cmds = append(cmds, m.startLog())
	}
	return tea.Batch(cmds...)
}

// State is the last link state the console has seen.
func (m *Console) State() link.State {
	return m.state
}

func (m *Console) Mode() InputMode {
	return m.mode
}

func (m *Console) Notice() string {
	return m.notice
}

func (m *Console) Flashing() bool {
	return m.flash
}

func (m *Console) Terminal() *components.Terminal {
	return m.terminal
}

func (m *Console) Logging() bool {
	return m.log != nil
}

func (m *Console) Echo() bool {
	return m.settings.Echo
}

// ErrorNotice is the message shown for a link failure.
func ErrorNotice(ev link.ErrorEvent) string {
	switch ev.Kind {
	case link.ErrorPermissionDenied:
		return fmt.Sprintf("permission denied for port %s; make sure you're in the dialout/tty group", ev.Port)
	case link.ErrorBusy:
		return fmt.Sprintf("port %s is busy; make sure no other application is using it", ev.Port)
	default:
		return fmt.Sprintf("a connection error has occurred: %v", ev.Err)
	}
}

func (m *Console) setNotice(text string) tea.Cmd {
	m.noticeID++
	m.notice = text
	id := m.noticeID
	return tea.Tick(defaultNoticeDuration, func(time.Time) tea.Msg {
		return noticeExpiredMsg{id: id}
	})
}

func (m *Console) bell() tea.Cmd {
	m.flashID++
	m.flash = true
	id := m.flashID
	return tea.Tick(flashDuration, func(time.Time) tea.Msg {
		return flashDoneMsg{id: id}
	})
}

// info prints a console message and copies it to the session log.
func (m *Console) info(text string) {
	if m.settings.DisableInfoMessages {
		return
	}
	m.terminal.AppendInfo(text, m.now())
	if m.log != nil {
		if err := m.log.WriteLocal("\n--- " + text + " ---\n"); err != nil {
			m.logger.Warnw("session log write failed", "error", err)
		}
	}
}

func (m *Console) handleState(ev link.StateEvent) {
	prev := m.state
	m.state = ev.State
	switch ev.State {
	case link.Open:
		m.info("Connected to " + ev.Port)
	case link.Reconnecting:
		m.info("Reconnecting to " + ev.Port)
	case link.Closed:
		if prev != link.Closed {
			m.info("Disconnected")
		}
	}
}

func (m *Console) handleEvents(events []link.Event) []tea.Cmd {
	var cmds []tea.Cmd
	for _, ev := range events {
		switch ev := ev.(type) {
		case link.StateEvent:
			m.handleState(ev)
		case link.ReadEvent:
			m.terminal.Append(components.Chunk{Time: ev.Time, Dir: components.RX, Data: ev.Data})
		case link.ErrorEvent:
			m.logger.Debugw("link error", "kind", ev.Kind, "port", ev.Port, "error", ev.Err)
			cmds = append(cmds, m.setNotice(ErrorNotice(ev)))
		}
		// After the info line, so a Closed flush includes it.
		if m.log != nil {
			link.Deliver(m.log, ev)
		}
	}
	return cmds
}

func (m *Console) handlePorts(msg PortsMsg) tea.Cmd {
	next := m.refreshPorts(defaultRefreshInterval)
	if msg.Err != nil {
		m.logger.Debugw("listing ports failed", "error", msg.Err)
		return next
	}
	m.ports = msg.Entries
	current := m.link.Config().PortName
	if current == "" && len(m.ports) > 0 {
		current = m.ports[0].Name
		m.link.SetPortName(current)
	}
	m.portTable.SetEntries(m.ports, current)
	return next
}

func (m *Console) openOrClose() tea.Cmd {
	l := m.link
	if m.state != link.Closed {
		return func() tea.Msg {
			return openResultMsg{err: l.Close()}
		}
	}
	if len(m.ports) == 0 {
		return m.setNotice("no serial ports found")
	}
	return func() tea.Msg {
		return openResultMsg{err: l.Open()}
	}
}

func (m *Console) handleOpenResult(err error) tea.Cmd {
	if err == nil {
		return nil
	}
	// Other open failures arrive as ErrorEvents; a momentarily missing
	// link name stays silent.
	if errors.Is(err, link.ErrShutdown) {
		return m.setNotice(fmt.Sprintf("port %s is not available: %v", m.link.Config().PortName, err))
	}
	return nil
}

func (m *Console) send() tea.Cmd {
	if m.state != link.Open {
		return m.bell()
	}
	payload, err := m.input.Payload()
	if err != nil {
		return m.setNotice(fmt.Sprintf("invalid hex input: %v", err))
	}

	if m.settings.Echo {
		m.terminal.Append(components.Chunk{Time: m.now(), Dir: components.TX, Data: payload})
		if m.log != nil {
			if err := m.log.WriteLocal(string(payload)); err != nil {
				m.logger.Warnw("session log write failed", "error", err)
			}
		}
	}
	m.input.AddToHistory(m.input.Value())
	m.input.SetValue("")

	l := m.link
	return func() tea.Msg {
		_, err := l.Write(payload)
		return writeResultMsg{err: err}
	}
}

// startLog opens the session log and starts its periodic flush.
func (m *Console) startLog() tea.Cmd {
	if m.log != nil {
		return nil
	}
	log, err := m.openLog(m.settings.LogConfig())
	if err != nil {
		m.logger.Warnw("session log open failed", "path", m.settings.LogPath, "error", err)
		m.settings.LogEnable = false
		return m.setNotice("failed to open log file for writing; check the path and try again")
	}
	if m.state != link.Closed {
		log.StateChanged(link.StateEvent{State: m.state, Port: m.link.Config().PortName})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := log.Run(ctx); err != nil {
			m.logger.Warnw("session log flush loop", "error", err)
		}
	}()
	m.log, m.logCancel, m.logDone = log, cancel, done
	m.settings.LogEnable = true
	return nil
}

func (m *Console) stopLog() error {
	if m.log == nil {
		return nil
	}
	m.logCancel()
	<-m.logDone
	err := m.log.Close()
	m.log = nil
	m.settings.LogEnable = false
	return err
}

func (m *Console) applySettings(msg SettingsMsg) tea.Cmd {
	if msg.Err != nil {
		return m.setNotice(fmt.Sprintf("config reload failed: %v", msg.Err))
	}
	s := msg.Settings
	err := settings.Apply(m.link, s)

	wasLogging := m.log != nil
	m.settings = s
	var cmd tea.Cmd
	switch {
	case s.LogEnable && !wasLogging:
		cmd = m.startLog()
	case !s.LogEnable && wasLogging:
		err = multierr.Append(err, m.stopLog())
	case wasLogging:
		err = multierr.Append(err, settings.ApplyLog(m.log, s))
	}
	m.logger.Infow("settings reloaded", "line", m.link.Config().LineString(), "error", err)
	if err != nil {
		return tea.Batch(cmd, m.setNotice(fmt.Sprintf("some settings were not applied: %v", err)))
	}
	return cmd
}

func (m *Console) nextBaud() tea.Cmd {
	current := m.link.Config().BaudRate
	next := BaudRates[0]
	for i, rate := range BaudRates {
		if rate == current {
			next = BaudRates[(i+1)%len(BaudRates)]
			break
		}
	}
	if err := m.link.SetBaudRate(next); err != nil {
		return m.setNotice(err.Error())
	}
	return nil
}

func (m *Console) resize(width, height int) {
	// input(3) + status bar(1) + help(1) + content border(1)
	contentHeight := height - 6
	if contentHeight < 1 {
		contentHeight = 1
	}
	m.terminal.SetSize(width, contentHeight)
	m.portTable.SetSize(width, contentHeight)
	m.input.SetWidth(width)
	m.statusBar.SetWidth(width)
	m.help.Width = width
	m.ready = true
}

func (m *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case EventsMsg:
		cmds := m.handleEvents(msg.Events)
		cmds = append(cmds, WaitForEvents(m.link))
		return m, tea.Batch(cmds...)

	case PortsMsg:
		return m, m.handlePorts(msg)

	case SettingsMsg:
		return m, m.applySettings(msg)

	case openResultMsg:
		return m, m.handleOpenResult(msg.err)

	case writeResultMsg:
		if msg.err != nil {
			return m, m.setNotice(fmt.Sprintf("write failed: %v", msg.err))
		}
		return m, nil

	case noticeExpiredMsg:
		if msg.id == m.noticeID {
			m.notice = ""
		}
		return m, nil

	case flashDoneMsg:
		if msg.id == m.flashID {
			m.flash = false
		}
		return m, nil

	case tea.MouseMsg:
		return m, m.terminal.Update(msg)

	case tea.KeyMsg:
		if m.picking {
			return m, m.updatePicker(msg)
		}
		if m.mode == InputModeInsert {
			return m, m.updateInsert(msg)
		}
		return m, m.updateNormal(msg)
	}
	return m, nil
}

func (m *Console) updatePicker(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Ports):
		m.picking = false
	case key.Matches(msg, m.keys.Send):
		m.picking = false
		if name := m.portTable.Selected(); name != "" && name != m.link.Config().PortName {
			m.link.SetPortName(name)
			m.info("Switched port to " + name)
		}
	default:
		return m.portTable.Update(msg)
	}
	return nil
}

func (m *Console) updateInsert(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.mode = InputModeNormal
		m.input.Blur()
		return nil
	case key.Matches(msg, m.keys.Send):
		return m.send()
	case key.Matches(msg, m.keys.HistoryUp):
		m.input.HistoryUp()
		return nil
	case key.Matches(msg, m.keys.HistoryDown):
		m.input.HistoryDown()
		return nil
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()
		return nil
	}
	return m.input.Update(msg)
}

func (m *Console) updateNormal(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.InsertMode):
		m.mode = InputModeInsert
		m.input.Focus()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Connect):
		return m.openOrClose()
	case key.Matches(msg, m.keys.Ports):
		m.portTable.SetEntries(m.ports, m.link.Config().PortName)
		m.picking = true
	case key.Matches(msg, m.keys.Baud):
		return m.nextBaud()
	case key.Matches(msg, m.keys.Reconnect):
		m.settings.ReconnectAutomatically = !m.link.ReconnectPolicy().Enabled
		m.link.SetReconnectEnabled(m.settings.ReconnectAutomatically)
	case key.Matches(msg, m.keys.Echo):
		m.settings.Echo = !m.settings.Echo
	case key.Matches(msg, m.keys.Logging):
		if m.log != nil {
			if err := m.stopLog(); err != nil {
				return m.setNotice(fmt.Sprintf("closing session log: %v", err))
			}
			return nil
		}
		return m.startLog()
	case key.Matches(msg, m.keys.ToggleDisplay):
		m.terminal.ToggleMode()
	case key.Matches(msg, m.keys.Clear):
		m.terminal.Clear()
	case key.Matches(msg, m.keys.Up):
		m.terminal.ScrollUp(1)
	case key.Matches(msg, m.keys.Down):
		m.terminal.ScrollDown(1)
	case key.Matches(msg, m.keys.GotoTop):
		m.terminal.GotoTop()
	case key.Matches(msg, m.keys.GotoBottom):
		m.terminal.GotoBottom()
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()
	}
	return nil
}

func (m *Console) View() string {
	if !m.ready {
		return "Initializing..."
	}

	content := m.terminal.View()
	if m.picking {
		content = m.portTable.View()
	}

	config := m.link.Config()
	status := m.statusBar.View(components.Status{
		Insert:      m.mode == InputModeInsert,
		SendingMode: m.input.SendingMode(),
		DisplayMode: m.terminal.Mode(),
		Port:        config.PortName,
		State:       m.state.String(),
		Config:      config,
		Reconnect:   m.link.ReconnectPolicy().Enabled,
		Echo:        m.settings.Echo,
		Logging:     m.log != nil,
		Notice:      m.notice,
		Flash:       m.flash,
		Clock:       m.now().Format("15:04:05"),
	})

	return lipgloss.JoinVertical(lipgloss.Left,
		styles.ContentBorderStyle.Render(content),
		m.input.View(m.mode == InputModeInsert),
		status,
		m.help.View(m.keys),
	)
}

// Close stops the session log. The caller owns the link.
func (m *Console) Close() error {
	return m.stopLog()
}

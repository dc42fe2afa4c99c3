// Package keys defines the console key bindings.
package keys

import "github.com/charmbracelet/bubbles/key"

// CommonKeys are shared by every mode.
type CommonKeys struct {
	Quit       key.Binding
	Help       key.Binding
	InsertMode key.Binding
	Escape     key.Binding
}

func NewCommonKeys() CommonKeys {
	return CommonKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		InsertMode: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "insert mode"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "normal mode"),
		),
	}
}

// ConsoleKeys drive the interactive console.
type ConsoleKeys struct {
	CommonKeys

	// normal mode
	Connect        key.Binding
	Ports          key.Binding
	Baud           key.Binding
	Reconnect      key.Binding
	Echo           key.Binding
	Logging        key.Binding
	ToggleDisplay  key.Binding
	Clear          key.Binding
	Up             key.Binding
	Down           key.Binding
	GotoTop        key.Binding
	GotoBottom     key.Binding
	ToggleSendMode key.Binding

	// insert mode
	Send        key.Binding
	HistoryUp   key.Binding
	HistoryDown key.Binding
}

func NewConsoleKeys() ConsoleKeys {
	return ConsoleKeys{
		CommonKeys: NewCommonKeys(),
		Connect: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open/close port"),
		),
		Ports: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "choose port"),
		),
		Baud: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "next baud rate"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "toggle reconnect"),
		),
		Echo: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "toggle echo"),
		),
		Logging: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "toggle session log"),
		),
		ToggleDisplay: key.NewBinding(
			key.WithKeys("h"),
			key.WithHelp("h", "text/hex view"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		GotoTop: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "top"),
		),
		GotoBottom: key.NewBinding(
			key.WithKeys("G"),
			key.WithHelp("G", "bottom"),
		),
		ToggleSendMode: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "text/hex input"),
		),
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		HistoryUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "previous"),
		),
		HistoryDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "next"),
		),
	}
}

func (k ConsoleKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Connect, k.Ports, k.InsertMode, k.Quit}
}

func (k ConsoleKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Connect, k.Ports, k.Baud, k.Reconnect},
		{k.InsertMode, k.Escape, k.Send, k.ToggleSendMode},
		{k.Echo, k.Logging, k.ToggleDisplay, k.Clear},
		{k.Up, k.Down, k.GotoTop, k.GotoBottom},
		{k.Help, k.Quit},
	}
}

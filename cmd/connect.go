/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/allbin/serialconsole/internal/settings"
	"github.com/allbin/serialconsole/internal/tui/models"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [port]",
	Short: "Open an interactive console on a serial port",
	Long: `Open an interactive console on a serial port.

The console streams received data, sends typed lines and keeps the port
list fresh. With --reconnect-automatically an unplugged device is reopened
as soon as it comes back. Features include:
- Text and hex display modes
- Text and hex sending modes with input history
- Local echo and info messages on connect/disconnect
- Session logging to a file, in text or binary mode
- Live reload of the config file

Without a port argument the configured port is used, or the first port
found.

Example usage:
  serialconsole connect /dev/ttyUSB0
  serialconsole connect /dev/serial/by-id/usb-FTDI_FT232R-if00-port0 -r
  serialconsole connect /dev/ttyUSB0 -b 9600 --parity even --data-bits 7
  serialconsole connect --log-enable --log-path session.log`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{screenAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			v.Set(settings.KeyPort, args[0])
		}
		if err := runConnect(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	settings.RegisterFlags(connectCmd.Flags())
	connectCmd.Flags().BoolP(settings.KeyEcho, "e", false, "show sent text locally")
	connectCmd.Flags().Bool(settings.KeyDisableInfoMessages, false, "hide connect and disconnect messages")
	connectCmd.Flags().BoolP(settings.KeyLogEnable, "l", false, "write the session to the log file")
	connectCmd.Flags().String(settings.KeyLogPath, "", "session log file (default is ~/serialconsole.log)")
	connectCmd.Flags().Bool(settings.KeyLogBinary, false, "log raw device bytes instead of text")
}

func runConnect() error {
	s, driver, err := loadSettings()
	if err != nil {
		return err
	}
	l, err := newLink(s, driver)
	if err != nil {
		return err
	}

	console := models.New(l, s,
		models.WithPortLister(models.DriverPorts(driver)),
		models.WithLogger(logger.Named("console")),
	)
	p := tea.NewProgram(console, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if v.ConfigFileUsed() != "" {
		settings.Watch(v, func(s settings.Settings, err error) {
			p.Send(models.SettingsMsg{Settings: s, Err: err})
		})
	}

	// Failures are queued as events and shown by the console.
	if s.Port != "" {
		if err := l.Open(); err != nil {
			logger.Debugw("initial open failed", "port", s.Port, "error", err)
		}
	}

	_, err = p.Run()
	return multierr.Combine(err, console.Close(), l.Shutdown())
}

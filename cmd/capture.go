/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/allbin/serialconsole/internal/sessionlog"
	"github.com/allbin/serialconsole/internal/settings"
	"github.com/allbin/serialconsole/internal/tui/models"
	"github.com/allbin/serialconsole/link"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <port> <output-file>",
	Short: "Capture serial data to a file",
	Long: `Capture incoming serial data to a session log file.

Reads from the specified serial port and appends to the output file, in
text mode (invalid UTF-8 replaced) or, with --log-binary, byte for byte.
Connect, disconnect and reconnect messages are written to stderr and to
the file. With --reconnect-automatically the capture survives the device
being unplugged; without it the capture ends when the device goes away.
Runs until interrupted (Ctrl+C).

Example usage:
  serialconsole capture /dev/ttyUSB0 data.log
  serialconsole capture /dev/ttyUSB0 output.txt --baud-rate 9600
  serialconsole capture /dev/serial/by-id/usb-FTDI_FT232R-if00-port0 capture.log -r --console
  serialconsole capture /dev/ttyACM0 dump.bin --log-binary --log-max-size-mb 50`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		v.Set(settings.KeyPort, args[0])
		v.Set(settings.KeyLogPath, args[1])
		showConsole, _ := cmd.Flags().GetBool("console")

		if err := runCapture(showConsole); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	settings.RegisterFlags(captureCmd.Flags())
	captureCmd.Flags().Bool(settings.KeyLogBinary, false, "log raw device bytes instead of text")
	captureCmd.Flags().Int(settings.KeyLogMaxSizeMB, 0, "rotate the file at this size in megabytes (0 disables rotation)")
	captureCmd.Flags().Bool(settings.KeyDisableInfoMessages, false, "hide connect and disconnect messages")
	captureCmd.Flags().BoolP("console", "c", false, "Display incoming data on console while capturing")
}

// captureSink reports link events on the console and marks state changes
// in the session log. It runs before the log in the sink chain.
type captureSink struct {
	log     *sessionlog.Log
	out     io.Writer
	msgs    io.Writer
	quiet   bool
	state   link.State
	bytes   int64
	stopped bool
}

func (c *captureSink) info(text string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.msgs, "--- %s ---\n", text)
	if err := c.log.WriteLocal("\n--- " + text + " ---\n"); err != nil {
		logger.Warnw("session log write failed", "error", err)
	}
}

func (c *captureSink) StateChanged(ev link.StateEvent) {
	prev := c.state
	c.state = ev.State
	switch ev.State {
	case link.Open:
		c.info("Connected to " + ev.Port)
	case link.Reconnecting:
		c.info("Reconnecting to " + ev.Port)
	case link.Closed:
		if prev != link.Closed {
			c.info("Disconnected")
		}
		c.stopped = true
	}
}

func (c *captureSink) DataRead(ev link.ReadEvent) {
	c.bytes += int64(len(ev.Data))
	if c.out != nil {
		_, _ = c.out.Write(ev.Data)
	}
}

func (c *captureSink) Error(ev link.ErrorEvent) {
	fmt.Fprintln(c.msgs, models.ErrorNotice(ev))
}

func runCapture(showConsole bool) error {
	s, driver, err := loadSettings()
	if err != nil {
		return err
	}
	l, err := newLink(s, driver)
	if err != nil {
		return err
	}

	log, err := sessionlog.Open(s.LogConfig(), sessionlog.WithLogger(logger.Named("sessionlog")))
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		if err := log.Run(ctx); err != nil {
			logger.Warnw("session log flush loop", "error", err)
		}
	}()

	sink := &captureSink{log: log, msgs: os.Stderr, quiet: s.DisableInfoMessages}
	if showConsole {
		sink.out = os.Stdout
	}
	sinks := link.Sinks{sink, log}

	fmt.Fprintf(os.Stderr, "Capturing data from %s to %s\n", s.Port, s.LogPath)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to stop\n\n")
	startTime := time.Now()

	if err = l.Open(); err == nil {
		pump(ctx, l, sinks, sink)
	}
	err = multierr.Append(err, l.Shutdown())
	l.Dispatch(sinks)

	stop()
	<-flushDone
	err = multierr.Append(err, log.Close())
	fmt.Fprintf(os.Stderr, "\nCapture complete: %d bytes read in %v\n", sink.bytes, time.Since(startTime).Round(time.Millisecond))
	return err
}

// pump dispatches link events until ctx is done or the link closes for
// good.
func pump(ctx context.Context, l *link.Link, sinks link.Sinks, sink *captureSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Ready():
			l.Dispatch(sinks)
			if sink.stopped {
				return
			}
		}
	}
}

/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/settings"
	"github.com/allbin/serialconsole/internal/tui/components"
	"github.com/allbin/serialconsole/internal/tui/styles"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [data] <port>",
	Short: "Send data to a serial port",
	Long: `Send data to a serial port with configurable options.

This command sends data to the specified serial port. Data can be provided as:
- Command line argument: send "Hello World" /dev/ttyUSB0
- From stdin (pipe): echo "test data" | serialconsole send /dev/ttyUSB0
- Interactive mode: serialconsole send /dev/ttyUSB0 (prompts for input)

Line settings come from the config file, environment and flags like every
other command.

Example usage:
  serialconsole send "Hello World" /dev/ttyUSB0
  serialconsole send "AT+GMR" /dev/ttyUSB0 --newline
  serialconsole send "02 06 0x1F" /dev/ttyUSB0 --hex
  echo "test" | serialconsole send /dev/ttyUSB0
  serialconsole send /dev/ttyUSB0  # Interactive mode`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var data string
		portPath := args[len(args)-1]

		if len(args) == 2 {
			data = args[0]
		} else {
			stat, err := os.Stdin.Stat()
			if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
				data = promptForData()
			} else {
				stdinData, err := io.ReadAll(os.Stdin)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error reading from stdin: %v\n", err)
					os.Exit(1)
				}
				data = strings.TrimRight(string(stdinData), "\r\n")
			}
		}

		addNewline, _ := cmd.Flags().GetBool("newline")
		hexMode, _ := cmd.Flags().GetBool("hex")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		payload, err := buildPayload(data, hexMode, addNewline)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid hex data: %v\n", err)
			os.Exit(1)
		}

		v.Set(settings.KeyPort, portPath)
		if err := sendData(payload, timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	settings.RegisterFlags(sendCmd.Flags())
	sendCmd.Flags().BoolP("newline", "n", false, "Add newline character to the end of data")
	sendCmd.Flags().BoolP("hex", "x", false, "Interpret data as hexadecimal (e.g., '48656c6c6f' for 'Hello')")
	sendCmd.Flags().DurationP("timeout", "t", 5*time.Second, "Timeout for sending data")
}

func promptForData() string {
	promptStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Mauve)

	fmt.Print(promptStyle.Render("Enter data to send: "))

	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return scanner.Text()
	}
	return ""
}

// buildPayload turns the command line data into bytes. The newline is only
// added to text data.
func buildPayload(data string, hexMode, addNewline bool) ([]byte, error) {
	if hexMode {
		return components.ParseHex(data)
	}
	if addNewline {
		data += "\n"
	}
	return []byte(data), nil
}

func sendData(payload []byte, timeout time.Duration) error {
	infoStyle := lipgloss.NewStyle().
		Foreground(styles.Mauve).
		Bold(true)

	successStyle := lipgloss.NewStyle().
		Foreground(styles.Green).
		Bold(true)

	errorStyle := lipgloss.NewStyle().
		Foreground(styles.Red).
		Bold(true)

	s, driver, err := loadSettings()
	if err != nil {
		return err
	}
	config, err := s.PortConfig()
	if err != nil {
		return err
	}

	fmt.Printf("%s Opening %s (%s)...\n", infoStyle.Render("⚡"), config.PortName, config.LineString())

	port, err := driver.Open(config)
	if err != nil {
		return fmt.Errorf("%s %v", errorStyle.Render("✗"), err)
	}
	defer port.Close()

	fmt.Printf("%s Connected successfully\n", successStyle.Render("✓"))
	fmt.Printf("%s Sending %d bytes...\n", infoStyle.Render("📤"), len(payload))

	n, err := writeTimeout(port, payload, timeout)
	if err != nil {
		return fmt.Errorf("%s failed to send data: %v", errorStyle.Render("✗"), err)
	}

	fmt.Printf("%s Successfully sent %d bytes\n", successStyle.Render("✓"), n)

	preview := string(payload)
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	preview = strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return '·'
		}
		return r
	}, preview)

	fmt.Printf("%s Data: %s\n", infoStyle.Render("📋"), preview)
	return nil
}

// writeTimeout writes data, closing the port when the write blocks for
// longer than timeout.
func writeTimeout(port serial.Port, data []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := port.Write(data)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(timeout):
		_ = port.Close()
		<-done
		return 0, errors.Errorf("write timed out after %v", timeout)
	}
}

/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
	"github.com/spf13/cobra"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/tui/styles"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List all available serial ports on the system.

This command scans for communication-capable serial devices including:
- USB serial adapters (ttyUSB*)
- USB CDC/ACM devices (ttyACM*)
- Standard serial ports (ttyS*)
- ARM/Raspberry Pi ports (ttyAMA*)
- Stable names under /dev/serial/by-id and /dev/serial/by-path

Virtual terminals and pseudo-terminals are excluded from the listing.`,
	Run: func(cmd *cobra.Command, args []string) {
		_, driver, err := loadSettings()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ports, err := driver.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}

		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")

		filteredPorts := filterPorts(ports, filterType)
		if len(filteredPorts) == 0 {
			if filterType != "" && filterType != "all" {
				fmt.Printf("No serial ports found matching filter: %s\n", filterType)
			} else {
				fmt.Println("No serial ports found")
			}
			return
		}

		if tableFormat {
			fmt.Printf("Found %d serial port(s):\n\n", len(filteredPorts))
			fmt.Println(renderTable(filteredPorts))
		} else {
			renderSimple(filteredPorts)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// filterPorts filters the port list based on the specified filter type.
// Links are classified by the device they point at.
func filterPorts(ports []string, filterType string) []string {
	if filterType == "" || filterType == "all" {
		return ports
	}

	var filtered []string
	for _, port := range ports {
		name := deviceName(port)
		switch strings.ToLower(filterType) {
		case "usb":
			if strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm") {
				filtered = append(filtered, port)
			}
		case "standard":
			if strings.HasPrefix(name, "ttys") && !strings.HasPrefix(name, "ttysac") {
				filtered = append(filtered, port)
			}
		case "arm":
			if strings.HasPrefix(name, "ttyama") {
				filtered = append(filtered, port)
			}
		}
	}
	return filtered
}

// deviceName is the lower-cased base name of the node behind port.
func deviceName(port string) string {
	if target, err := filepath.EvalSymlinks(port); err == nil {
		port = target
	}
	return strings.ToLower(filepath.Base(port))
}

const (
	columnKeyPort = "port"
	columnKeyType = "type"
	columnKeyDesc = "description"
	columnKeyUSB  = "usb"
)

// renderTable renders the port list as a static table.
func renderTable(ports []string) string {
	columns := []table.Column{
		table.NewFlexColumn(columnKeyPort, "Port", 3),
		table.NewColumn(columnKeyType, "Type", 16),
		table.NewFlexColumn(columnKeyDesc, "Description", 2),
		table.NewColumn(columnKeyUSB, "USB ID", 11),
	}

	rows := make([]table.Row, 0, len(ports))
	for _, port := range ports {
		rows = append(rows, portRow(port))
	}

	return table.New(columns).
		WithRows(rows).
		WithTargetWidth(100).
		BorderRounded().
		HeaderStyle(lipgloss.NewStyle().Bold(true).Foreground(styles.Mauve)).
		WithBaseStyle(lipgloss.NewStyle().
			Foreground(styles.Text).
			BorderForeground(styles.Surface2).
			Align(lipgloss.Left)).
		View()
}

func portRow(port string) table.Row {
	info, err := serial.GetPortInfo(port)
	if err != nil {
		return table.NewRow(table.RowData{
			columnKeyPort: port,
			columnKeyType: "Unknown",
			columnKeyDesc: table.NewStyledCell(fmt.Sprintf("Error: %v", err), lipgloss.NewStyle().Foreground(styles.Red)),
			columnKeyUSB:  "",
		})
	}

	usbID := ""
	if info.VendorID != "" || info.ProductID != "" {
		usbID = info.VendorID + ":" + info.ProductID
	}
	desc := info.Description
	if info.Product != "" {
		desc = info.Product
	}
	return table.NewRow(table.RowData{
		columnKeyPort: info.Path,
		columnKeyType: getPortType(info.Name),
		columnKeyDesc: desc,
		columnKeyUSB:  usbID,
	})
}

// renderSimple renders the port list in simple text format
func renderSimple(ports []string) {
	for _, port := range ports {
		fmt.Println(port)
	}
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttysac"):
		return "Samsung Serial"
	case strings.HasPrefix(name, "ttyths"):
		return "Tegra Serial"
	case strings.HasPrefix(name, "ttyo"):
		return "OMAP Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}

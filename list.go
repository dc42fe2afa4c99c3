package serial

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// symlinkDirs are the udev directories holding stable names for serial
// devices. A name under one of them survives re-enumeration.
var symlinkDirs = []string{"/dev/serial/by-id", "/dev/serial/by-path"}

var (
	devPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
		regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
		regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
		regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
		regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
		regexp.MustCompile(`^ttyO\d+$`),   // OMAP serial ports
		regexp.MustCompile(`^ttySAC\d+$`), // Samsung serial ports
		regexp.MustCompile(`^ttyTHS\d+$`), // Tegra serial ports
	}

	// Virtual terminals and pseudo terminals never show up as ports.
	excludePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^tty\d+$`),
		regexp.MustCompile(`^console$`),
		regexp.MustCompile(`^ptmx$`),
		regexp.MustCompile(`^pty.*$`),
		regexp.MustCompile(`^pts/.*$`),
	}
)

// ListPorts returns the serial devices under /dev plus the udev by-id and
// by-path links that currently resolve to a character device. The result
// is sorted.
func ListPorts() ([]string, error) {
	ports, err := scanDevDir("/dev")
	if err != nil {
		return nil, err
	}
	ports = append(ports, listSymlinks()...)
	sort.Strings(ports)
	return dedupe(ports), nil
}

func scanDevDir(devDir string) ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()
		if !isSerialName(name) {
			continue
		}
		fullPath := filepath.Join(devDir, name)
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}
	return ports, nil
}

func isSerialName(name string) bool {
	for _, p := range excludePatterns {
		if p.MatchString(name) {
			return false
		}
	}
	for _, p := range devPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// listSymlinks returns the live links in symlinkDirs. Dangling links are
// skipped; missing directories are not an error.
func listSymlinks() []string {
	var links []string
	for _, dir := range symlinkDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if isCharacterDevice(path) {
				links = append(links, path)
			}
		}
	}
	return links
}

// dedupe drops adjacent duplicates from a sorted slice.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo describes a serial device.
type PortInfo struct {
	Name         string
	Path         string
	Target       string // resolved device node when Path is a link
	Description  string
	IsUSB        bool
	VendorID     string
	ProductID    string
	SerialNumber string
	Product      string
}

// GetPortInfo returns detailed information about a specific port. USB
// metadata is filled in when the platform enumerator can provide it.
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	target := portPath
	if resolved, err := filepath.EvalSymlinks(portPath); err == nil {
		target = resolved
	}
	name := filepath.Base(target)

	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Target:      target,
		Description: getPortDescription(name),
	}

	if details, err := enumerator.GetDetailedPortsList(); err == nil {
		enrichUSBInfo(info, details)
	}
	return info, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// enrichUSBInfo copies the enumerator entry matching info.Target.
func enrichUSBInfo(info *PortInfo, details []*enumerator.PortDetails) {
	for _, d := range details {
		if d == nil || (d.Name != info.Target && filepath.Base(d.Name) != info.Name) {
			continue
		}
		info.IsUSB = d.IsUSB
		info.VendorID = d.VID
		info.ProductID = d.PID
		info.SerialNumber = d.SerialNumber
		info.Product = d.Product
		if d.Product != "" {
			info.Description = d.Product
		}
		return
	}
}

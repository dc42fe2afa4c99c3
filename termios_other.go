//go:build !linux

package serial

// SystemDriver falls back to go.bug.st/serial where termios is not wired up.
var SystemDriver Driver = PortableDriver

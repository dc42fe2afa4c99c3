// Package serial is the device layer of serialconsole: line parameters,
// drivers that open and enumerate serial ports, and classification of the
// failures they produce.
//
// # Basic Usage
//
// Build a configuration and open it with the system driver:
//
//	config, err := serial.NewConfig("/dev/ttyUSB0",
//	    serial.WithBaudRate(9600),
//	    serial.WithParity(serial.ParityEven),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	port, err := serial.Open(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
// Read returns 0, nil when nothing arrived within ReadTimeout, so callers
// can loop and check for cancellation between reads.
//
// # Drivers
//
// SystemDriver programs the tty through termios on Linux: raw mode,
// exclusive access (TIOCEXCL plus flock), mark/space parity and all four
// flow control modes. PortableDriver wraps go.bug.st/serial and is used on
// other platforms; it supports FlowControlNone only.
//
// Both return ports that implement Reconfigurer, so line settings can be
// changed on an open handle.
//
// # Port Discovery
//
// ListPorts includes the udev links under /dev/serial/by-id and
// /dev/serial/by-path. These names stay stable across unplug and replug,
// which is what a reconnecting client wants to hold on to:
//
//	ports, err := serial.ListPorts()
//	for _, portPath := range ports {
//	    info, _ := serial.GetPortInfo(portPath)
//	    fmt.Printf("%s -> %s: %s (VID=%s PID=%s)\n",
//	        info.Path, info.Target, info.Description, info.VendorID, info.ProductID)
//	}
//
// # Error Handling
//
// Drivers return *PortError. Its Kind says what happened:
//
//	KindPermissionDenied  // EACCES/EPERM
//	KindBusy              // EBUSY, or another process holds the lock
//	KindTransientMissing  // a by-id/by-path link whose device is not back yet
//	KindDisconnected      // I/O error or hangup on an open handle
//	KindExpectedClose     // the handle was closed under a pending read
//
// Classify works on any error, and Code returns the raw errno when there is
// one. Configuration setters reject bad values with ErrInvalidParameter and
// leave the previous value in place.
//
// # Default Configuration
//
//   - BaudRate: 115200
//   - DataBits: 8
//   - StopBits: 1
//   - Parity: None
//   - FlowControl: None
//   - ReadTimeout: 200ms
package serial

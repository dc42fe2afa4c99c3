package serial

import (
	"io"
)

// Port is an open serial device.
//
// Read blocks for at most the configured ReadTimeout and returns 0, nil
// when nothing arrived. Read and Write may be called from different
// goroutines. Close is idempotent and unblocks a pending Read.
type Port interface {
	io.ReadWriteCloser
	Name() string
}

// Reconfigurer is implemented by ports that can change line parameters
// without being reopened.
type Reconfigurer interface {
	Reconfigure(config PortConfig) error
}

// Driver opens ports and enumerates the devices currently present.
type Driver interface {
	Open(config PortConfig) (Port, error)
	ListPorts() ([]string, error)
}

// Open opens config.PortName with the system driver.
func Open(config PortConfig) (Port, error) {
	return SystemDriver.Open(config)
}

// openError wraps a failed open into a *PortError.
func openError(config PortConfig, err error) error {
	return &PortError{Op: "open", Port: config.PortName, Kind: classifyOpen(config.PortName, err), Err: err}
}

// ioError wraps a failed read or write on an open handle.
func ioError(op, name string, err error) error {
	return &PortError{Op: op, Port: name, Kind: Classify(err), Err: err}
}

package serial

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	bugst "go.bug.st/serial"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidParameter = errors.New("invalid serial parameter")
	ErrPortClosed       = errors.New("serial port is closed")
	ErrUnsupported      = errors.New("setting not supported by driver")
)

// Kind classifies a device-layer failure.
type Kind int

const (
	KindOther Kind = iota
	KindPermissionDenied
	KindBusy
	// KindTransientMissing is an open failure on a symlinked device name
	// whose target is momentarily absent. It is retried, never reported.
	KindTransientMissing
	// KindDisconnected is an I/O failure on an open handle: cable pulled,
	// device node removed and similar.
	KindDisconnected
	// KindExpectedClose means the handle was closed while a read was
	// pending. It is the normal shutdown path.
	KindExpectedClose
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindBusy:
		return "busy"
	case KindTransientMissing:
		return "transient missing"
	case KindDisconnected:
		return "disconnected"
	case KindExpectedClose:
		return "closed"
	default:
		return "other"
	}
}

// PortError is returned by drivers for open, read and write failures.
type PortError struct {
	Op   string // "open", "read", "write", "configure"
	Port string
	Kind Kind
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// Code returns the raw OS error number behind the failure, if any.
func (e *PortError) Code() (int, bool) {
	return RawCode(e.Err)
}

// RawCode extracts an errno from err.
func RawCode(err error) (int, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno), true
	}
	return 0, false
}

// Classify maps an error onto a Kind. A *PortError keeps the kind its
// driver assigned.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, ErrPortClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, fs.ErrClosed) {
		return KindExpectedClose
	}
	if errors.Is(err, ErrDeviceInUse) {
		return KindBusy
	}
	if errors.Is(err, ErrPermissionDenied) {
		return KindPermissionDenied
	}

	var portErr *bugst.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case bugst.PortBusy:
			return KindBusy
		case bugst.PermissionDenied:
			return KindPermissionDenied
		case bugst.PortClosed:
			return KindExpectedClose
		case bugst.PortNotFound, bugst.InvalidSerialPort:
			return KindDisconnected
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return classifyErrno(errno)
	}
	return KindOther
}

// classifyErrno covers read/write failures on an already open handle.
func classifyErrno(errno syscall.Errno) Kind {
	switch errno {
	case syscall.EBADF:
		return KindExpectedClose
	case syscall.EBUSY:
		return KindBusy
	case syscall.EACCES, syscall.EPERM:
		return KindPermissionDenied
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV, syscall.ENOENT, syscall.EPIPE:
		return KindDisconnected
	default:
		return KindOther
	}
}

// classifyOpen classifies a failed open of path. ENOENT-class failures are
// transient only when the path goes through a symlink, because udev
// recreates /dev/serial/by-id links after the node reappears.
func classifyOpen(path string, err error) Kind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Classify(err)
	}
	switch errno {
	case syscall.EACCES, syscall.EPERM:
		return KindPermissionDenied
	case syscall.EBUSY:
		return KindBusy
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
		if isSymlinkPath(path) {
			return KindTransientMissing
		}
		return KindOther
	default:
		return KindOther
	}
}

// isSymlinkPath reports whether path is a symlink or lives in one of the
// udev symlink directories.
func isSymlinkPath(path string) bool {
	if fi, err := os.Lstat(path); err == nil {
		return fi.Mode()&os.ModeSymlink != 0
	}
	dir := filepath.Dir(path)
	for _, linkDir := range symlinkDirs {
		if dir == linkDir || strings.HasPrefix(dir, linkDir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

package serial

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	bugst "go.bug.st/serial"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOther},
		{"closed sentinel", ErrPortClosed, KindExpectedClose},
		{"fs closed", fs.ErrClosed, KindExpectedClose},
		{"in use", fmt.Errorf("lock: %w", ErrDeviceInUse), KindBusy},
		{"permission sentinel", ErrPermissionDenied, KindPermissionDenied},
		{"EBADF", syscall.EBADF, KindExpectedClose},
		{"EBUSY", syscall.EBUSY, KindBusy},
		{"EACCES", syscall.EACCES, KindPermissionDenied},
		{"EPERM", syscall.EPERM, KindPermissionDenied},
		{"EIO", syscall.EIO, KindDisconnected},
		{"ENXIO", syscall.ENXIO, KindDisconnected},
		{"ENODEV", syscall.ENODEV, KindDisconnected},
		{"wrapped EIO", &os.PathError{Op: "read", Path: "/dev/ttyUSB0", Err: syscall.EIO}, KindDisconnected},
		{"EINVAL", syscall.EINVAL, KindOther},
		{"bugst busy", &bugst.PortError{}, KindBusy},
		{"plain", errors.New("boom"), KindOther},
		{"port error keeps kind", &PortError{Op: "read", Kind: KindTransientMissing, Err: syscall.EIO}, KindTransientMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyOpen(t *testing.T) {
	dir := t.TempDir()
	dangling := filepath.Join(dir, "usb-FTDI-if00-port0")
	if err := os.Symlink(filepath.Join(dir, "ttyUSB9"), dangling); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	tests := []struct {
		name string
		path string
		err  error
		want Kind
	}{
		{"dangling link", dangling, syscall.ENOENT, KindTransientMissing},
		{"by-id name", "/dev/serial/by-id/usb-not-plugged-in", syscall.ENOENT, KindTransientMissing},
		{"by-path name", "/dev/serial/by-path/pci-0000:00:14.0-usb-0:2:1.0-port0", syscall.ENXIO, KindTransientMissing},
		{"plain node missing", filepath.Join(dir, "ttyUSB9"), syscall.ENOENT, KindOther},
		{"busy", dangling, syscall.EBUSY, KindBusy},
		{"permission", filepath.Join(dir, "ttyUSB9"), syscall.EACCES, KindPermissionDenied},
		{"not errno", dangling, ErrDeviceInUse, KindBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyOpen(tt.path, tt.err); got != tt.want {
				t.Errorf("classifyOpen(%s, %v) = %v, want %v", tt.path, tt.err, got, tt.want)
			}
		})
	}
}

func TestPortErrorCode(t *testing.T) {
	err := openError(PortConfig{PortName: "/dev/ttyUSB0"}, syscall.EACCES)

	var pe *PortError
	if !errors.As(err, &pe) {
		t.Fatalf("openError returned %T", err)
	}
	if pe.Kind != KindPermissionDenied {
		t.Errorf("Kind = %v", pe.Kind)
	}
	code, ok := pe.Code()
	if !ok || code != int(syscall.EACCES) {
		t.Errorf("Code() = %d, %v", code, ok)
	}
	if !errors.Is(err, syscall.EACCES) {
		t.Error("PortError does not unwrap to the errno")
	}
	if _, ok := RawCode(errors.New("no errno")); ok {
		t.Error("RawCode found a code in a plain error")
	}
}

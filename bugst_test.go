package serial

import (
	"errors"
	"syscall"
	"testing"
	"time"

	bugst "go.bug.st/serial"
)

// fakeBugstPort records what the driver asks of a go.bug.st port.
type fakeBugstPort struct {
	bugst.Port // unused methods panic

	mode        *bugst.Mode
	readTimeout time.Duration
	readErr     error
	closes      int
}

func (f *fakeBugstPort) SetMode(mode *bugst.Mode) error {
	f.mode = mode
	return nil
}

func (f *fakeBugstPort) SetReadTimeout(t time.Duration) error {
	f.readTimeout = t
	return nil
}

func (f *fakeBugstPort) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return copy(p, "ok"), nil
}

func (f *fakeBugstPort) Write(p []byte) (int, error) {
	return len(p), nil
}

func (f *fakeBugstPort) Close() error {
	f.closes++
	return nil
}

func TestToMode(t *testing.T) {
	config := DefaultConfig()
	config.PortName = "/dev/ttyUSB0"
	config.DataBits = 7
	config.StopBits = 2
	config.Parity = ParityMark

	mode, err := toMode(config)
	if err != nil {
		t.Fatalf("toMode error = %v", err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 7 || mode.StopBits != bugst.TwoStopBits || mode.Parity != bugst.MarkParity {
		t.Errorf("toMode = %+v", mode)
	}

	config.FlowControl = FlowControlRTSCTS
	if _, err := toMode(config); !errors.Is(err, ErrUnsupported) {
		t.Errorf("toMode with rtscts error = %v, want ErrUnsupported", err)
	}
}

func TestBugstDriverOpen(t *testing.T) {
	fake := &fakeBugstPort{}
	var openedName string
	driver := bugstDriver{
		open: func(name string, mode *bugst.Mode) (bugst.Port, error) {
			openedName = name
			fake.mode = mode
			return fake, nil
		},
		list: func() ([]string, error) { return []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}, nil },
	}

	config := DefaultConfig()
	config.PortName = "/dev/ttyUSB0"
	config.ReadTimeout = 300 * time.Millisecond

	p, err := driver.Open(config)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if openedName != "/dev/ttyUSB0" || p.Name() != "/dev/ttyUSB0" {
		t.Errorf("opened %q, Name() = %q", openedName, p.Name())
	}
	if fake.readTimeout != 300*time.Millisecond {
		t.Errorf("read timeout = %v", fake.readTimeout)
	}

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	if err != nil || string(buf[:n]) != "ok" {
		t.Errorf("Read = %q, %v", buf[:n], err)
	}

	if err := p.(Reconfigurer).Reconfigure(PortConfig{PortName: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1, ReadTimeout: time.Second}); err != nil {
		t.Errorf("Reconfigure error = %v", err)
	}
	if fake.mode.BaudRate != 9600 {
		t.Errorf("mode after reconfigure = %+v", fake.mode)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if fake.closes != 1 {
		t.Errorf("underlying Close called %d times", fake.closes)
	}
	if _, err := p.Write([]byte("x")); Classify(err) != KindExpectedClose {
		t.Errorf("Write after Close error = %v", err)
	}

	ports, err := driver.ListPorts()
	if err != nil {
		t.Fatalf("ListPorts error = %v", err)
	}
	if len(ports) < 2 || ports[0] > ports[1] {
		t.Errorf("ListPorts = %v", ports)
	}
}

func TestBugstDriverErrors(t *testing.T) {
	driver := bugstDriver{
		open: func(string, *bugst.Mode) (bugst.Port, error) { return nil, syscall.EACCES },
	}
	config := DefaultConfig()
	config.PortName = "/dev/ttyUSB0"

	_, err := driver.Open(config)
	if Classify(err) != KindPermissionDenied {
		t.Errorf("Open error = %v, kind %v", err, Classify(err))
	}

	fake := &fakeBugstPort{readErr: syscall.EIO}
	driver.open = func(string, *bugst.Mode) (bugst.Port, error) { return fake, nil }
	p, err := driver.Open(config)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer p.Close()

	if _, err := p.Read(make([]byte, 4)); Classify(err) != KindDisconnected {
		t.Errorf("Read error = %v, kind %v", err, Classify(err))
	}
}

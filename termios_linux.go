//go:build linux

package serial

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// SystemDriver talks to the tty through termios ioctls.
var SystemDriver Driver = termiosDriver{}

type termiosDriver struct{}

func (termiosDriver) ListPorts() ([]string, error) {
	return ListPorts()
}

// Open opens the device exclusively and puts it in raw mode.
func (termiosDriver) Open(config PortConfig) (Port, error) {
	if err := config.Validate(); err != nil {
		return nil, &PortError{Op: "open", Port: config.PortName, Kind: KindOther, Err: err}
	}
	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return nil, &PortError{Op: "open", Port: config.PortName, Kind: KindOther, Err: fmt.Errorf("%w: %d", err, config.BaudRate)}
	}

	fd, err := unix.Open(config.PortName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, openError(config, err)
	}

	if err := lockDevice(fd); err != nil {
		unix.Close(fd)
		return nil, &PortError{Op: "open", Port: config.PortName, Kind: KindBusy, Err: err}
	}

	if err := configurePort(fd, baudRate, config); err != nil {
		unix.Close(fd)
		return nil, &PortError{Op: "configure", Port: config.PortName, Kind: Classify(err), Err: err}
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, openError(config, err)
	}

	return &termiosPort{
		fd:      fd,
		name:    config.PortName,
		timeout: int(config.ReadTimeout.Milliseconds()),
		wakeR:   pipe[0],
		wakeW:   pipe[1],
	}, nil
}

// lockDevice takes TIOCEXCL plus an advisory flock so a second opener,
// including another instance of this program, fails with busy.
func lockDevice(fd int) error {
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceInUse, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %w", ErrDeviceInUse, unix.EBUSY)
		}
		return fmt.Errorf("%w: %w", ErrDeviceInUse, err)
	}
	return nil
}

// termiosPort is a raw tty. The descriptor stays non-blocking and every wait
// happens in poll. mu guards fd against Close while a Read or Write is in
// progress; Close first pokes the wake pipe so a pending poll returns
// immediately.
type termiosPort struct {
	mu      sync.RWMutex
	fd      int
	name    string
	timeout int // poll timeout in milliseconds
	closed  bool

	wakeR, wakeW int
	closeOnce    sync.Once
}

var (
	_ Port         = (*termiosPort)(nil)
	_ Reconfigurer = (*termiosPort)(nil)
)

func (p *termiosPort) Name() string {
	return p.name
}

// Read waits up to the read timeout for input. A readable descriptor that
// yields no bytes is a hangup and is reported as EIO.
func (p *termiosPort) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ioError("read", p.name, ErrPortClosed)
	}

	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.wakeR), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, p.timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, ioError("read", p.name, err)
	}
	if fds[1].Revents != 0 {
		return 0, ioError("read", p.name, ErrPortClosed)
	}
	if n == 0 {
		return 0, nil
	}

	revents := fds[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return 0, ioError("read", p.name, unix.EBADF)
	}
	if revents&unix.POLLIN == 0 && revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return 0, ioError("read", p.name, unix.EIO)
	}

	n, err = unix.Read(p.fd, buf)
	switch {
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
		return 0, nil
	case err != nil:
		return 0, ioError("read", p.name, err)
	case n == 0:
		return 0, ioError("read", p.name, unix.EIO)
	}
	return n, nil
}

// Write blocks until every byte has been handed to the driver or the port
// is closed. A peer holding off flow control blocks it in poll, where Close
// can still reach it.
func (p *termiosPort) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ioError("write", p.name, ErrPortClosed)
	}

	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil, errors.Is(err, unix.EINTR):
			continue
		case !errors.Is(err, unix.EAGAIN):
			return written, ioError("write", p.name, err)
		}
		if err := p.waitWritable(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// waitWritable polls until fd accepts more output. It fails with
// ErrPortClosed once Close has poked the wake pipe.
func (p *termiosPort) waitWritable() error {
	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLOUT},
		{Fd: int32(p.wakeR), Events: unix.POLLIN},
	}
	if _, err := unix.Poll(fds, -1); err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return ioError("write", p.name, err)
	}
	if fds[1].Revents != 0 {
		return ioError("write", p.name, ErrPortClosed)
	}
	revents := fds[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return ioError("write", p.name, unix.EBADF)
	}
	if revents&unix.POLLOUT == 0 && revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return ioError("write", p.name, unix.EIO)
	}
	return nil
}

// Reconfigure rewrites the line settings of the open handle.
func (p *termiosPort) Reconfigure(config PortConfig) error {
	if err := config.Validate(); err != nil {
		return &PortError{Op: "configure", Port: p.name, Kind: KindOther, Err: err}
	}
	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return &PortError{Op: "configure", Port: p.name, Kind: KindOther, Err: fmt.Errorf("%w: %d", err, config.BaudRate)}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ioError("configure", p.name, ErrPortClosed)
	}
	if err := configurePort(p.fd, baudRate, config); err != nil {
		return &PortError{Op: "configure", Port: p.name, Kind: Classify(err), Err: err}
	}
	return nil
}

// Close releases the device. It is safe to call more than once.
func (p *termiosPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		unix.Write(p.wakeW, []byte{0})

		p.mu.Lock()
		defer p.mu.Unlock()

		p.closed = true
		unix.Flock(p.fd, unix.LOCK_UN)
		err = unix.Close(p.fd)
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
	})
	if err != nil {
		return ioError("close", p.name, err)
	}
	return nil
}

// configurePort puts fd in raw mode with the requested line settings.
func configurePort(fd int, baudRate uint32, config PortConfig) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityMark:
		termios.Cflag |= unix.PARENB | unix.CMSPAR | unix.PARODD
	case ParitySpace:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	}
	if config.Parity != ParityNone {
		termios.Iflag |= unix.INPCK
	}

	switch config.FlowControl {
	case FlowControlRTSCTS:
		termios.Cflag |= unix.CRTSCTS
	case FlowControlSoftware:
		termios.Iflag |= unix.IXON | unix.IXOFF
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}

	switch config.FlowControl {
	case FlowControlRTSCTS:
		// Some USB bridges ignore manual RTS; not fatal.
		_ = unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_RTS)
	case FlowControlDSRDTR:
		// termios has no DSR/DTR handshake; raise DTR so the peer sees us ready.
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR); err != nil {
			return fmt.Errorf("failed to assert DTR: %w", err)
		}
	}

	return nil
}

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 50:
		return unix.B50, nil
	case 75:
		return unix.B75, nil
	case 110:
		return unix.B110, nil
	case 134:
		return unix.B134, nil
	case 150:
		return unix.B150, nil
	case 200:
		return unix.B200, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 1800:
		return unix.B1800, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	case 2500000:
		return unix.B2500000, nil
	case 3000000:
		return unix.B3000000, nil
	case 3500000:
		return unix.B3500000, nil
	case 4000000:
		return unix.B4000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

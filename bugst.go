package serial

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	bugst "go.bug.st/serial"
)

// PortableDriver is backed by go.bug.st/serial. It has no flow control
// support; only FlowControlNone can be opened.
var PortableDriver Driver = bugstDriver{open: bugst.Open, list: bugst.GetPortsList}

type bugstDriver struct {
	open func(name string, mode *bugst.Mode) (bugst.Port, error)
	list func() ([]string, error)
}

func (d bugstDriver) ListPorts() ([]string, error) {
	ports, err := d.list()
	if err != nil {
		return nil, err
	}
	ports = append(ports, listSymlinks()...)
	sort.Strings(ports)
	return dedupe(ports), nil
}

func (d bugstDriver) Open(config PortConfig) (Port, error) {
	mode, err := toMode(config)
	if err != nil {
		return nil, &PortError{Op: "open", Port: config.PortName, Kind: KindOther, Err: err}
	}

	p, err := d.open(config.PortName, mode)
	if err != nil {
		return nil, openError(config, err)
	}
	if err := p.SetReadTimeout(config.ReadTimeout); err != nil {
		p.Close()
		return nil, &PortError{Op: "configure", Port: config.PortName, Kind: KindOther, Err: err}
	}
	return &bugstPort{port: p, name: config.PortName}, nil
}

// toMode maps a PortConfig onto the go.bug.st representation.
func toMode(config PortConfig) (*bugst.Mode, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.FlowControl != FlowControlNone {
		return nil, fmt.Errorf("%w: flow control %s", ErrUnsupported, config.FlowControl)
	}

	mode := &bugst.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: bugst.OneStopBit,
	}
	if config.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}
	switch config.Parity {
	case ParityOdd:
		mode.Parity = bugst.OddParity
	case ParityEven:
		mode.Parity = bugst.EvenParity
	case ParityMark:
		mode.Parity = bugst.MarkParity
	case ParitySpace:
		mode.Parity = bugst.SpaceParity
	default:
		mode.Parity = bugst.NoParity
	}
	return mode, nil
}

// bugstPort adapts a go.bug.st port. The library reports both our own
// Close and a hangup as PortClosed, so closed tells the two apart.
type bugstPort struct {
	port   bugst.Port
	name   string
	closed atomic.Bool
}

var (
	_ Port         = (*bugstPort)(nil)
	_ Reconfigurer = (*bugstPort)(nil)
)

func (p *bugstPort) Name() string {
	return p.name
}

func (p *bugstPort) Read(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if err != nil {
		return n, p.wrap("read", err)
	}
	return n, nil
}

func (p *bugstPort) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ioError("write", p.name, ErrPortClosed)
	}
	n, err := p.port.Write(data)
	if err != nil {
		return n, p.wrap("write", err)
	}
	return n, nil
}

func (p *bugstPort) Reconfigure(config PortConfig) error {
	mode, err := toMode(config)
	if err != nil {
		return &PortError{Op: "configure", Port: p.name, Kind: KindOther, Err: err}
	}
	if err := p.port.SetMode(mode); err != nil {
		return p.wrap("configure", err)
	}
	return nil
}

func (p *bugstPort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.port.Close(); err != nil {
		return p.wrap("close", err)
	}
	return nil
}

func (p *bugstPort) wrap(op string, err error) error {
	kind := Classify(err)
	var portErr *bugst.PortError
	if errors.As(err, &portErr) && portErr.Code() == bugst.PortClosed && !p.closed.Load() {
		kind = KindDisconnected
	}
	return &PortError{Op: op, Port: p.name, Kind: kind, Err: err}
}

package serial

import (
	"fmt"
	"strings"
	"time"
)

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
	FlowControlDSRDTR
	FlowControlSoftware
)

func (f FlowControl) String() string {
	switch f {
	case FlowControlNone:
		return "none"
	case FlowControlRTSCTS:
		return "rtscts"
	case FlowControlDSRDTR:
		return "dsrdtr"
	case FlowControlSoftware:
		return "xonxoff"
	default:
		return fmt.Sprintf("FlowControl(%d)", int(f))
	}
}

// Valid reports whether f is one of the defined modes.
func (f FlowControl) Valid() bool {
	return f >= FlowControlNone && f <= FlowControlSoftware
}

// ParseFlowControl accepts the names used in config files and flags.
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FlowControlNone, nil
	case "rtscts", "rts/cts", "hardware":
		return FlowControlRTSCTS, nil
	case "dsrdtr", "dsr/dtr":
		return FlowControlDSRDTR, nil
	case "xonxoff", "xon/xoff", "software":
		return FlowControlSoftware, nil
	default:
		return FlowControlNone, fmt.Errorf("%w: flow control %q", ErrInvalidParameter, s)
	}
}

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("Parity(%d)", int(p))
	}
}

// Letter is the single-letter form used in "8N1" notation.
func (p Parity) Letter() string {
	if !p.Valid() {
		return "?"
	}
	return strings.ToUpper(p.String()[:1])
}

// Valid reports whether p is one of the defined modes.
func (p Parity) Valid() bool {
	return p >= ParityNone && p <= ParitySpace
}

// ParseParity accepts full names or single letters.
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return ParityNone, nil
	case "even", "e":
		return ParityEven, nil
	case "odd", "o":
		return ParityOdd, nil
	case "mark", "m":
		return ParityMark, nil
	case "space", "s":
		return ParitySpace, nil
	default:
		return ParityNone, fmt.Errorf("%w: parity %q", ErrInvalidParameter, s)
	}
}

// PortConfig holds the line parameters for one session.
//
// Fields may be assigned directly, but the setters are the only way to
// change a value with validation; a rejected value leaves the previous
// one in place.
type PortConfig struct {
	PortName    string
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      Parity
	FlowControl FlowControl
	// ReadTimeout bounds a single blocking read, at millisecond
	// resolution.
	ReadTimeout time.Duration
}

// Option is a functional option for configuring a serial port
type Option func(*PortConfig) error

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() PortConfig {
	return PortConfig{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      ParityNone,
		FlowControl: FlowControlNone,
		ReadTimeout: 200 * time.Millisecond,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(portName string, opts ...Option) (PortConfig, error) {
	c := DefaultConfig()
	c.PortName = portName
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return c, err
		}
	}
	return c, nil
}

// SetPortName sets the device path.
func (c *PortConfig) SetPortName(name string) {
	c.PortName = name
}

// SetBaudRate accepts any positive rate. Whether the rate is usable is
// decided by the driver at open time.
func (c *PortConfig) SetBaudRate(rate int) error {
	if rate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, rate)
	}
	c.BaudRate = rate
	return nil
}

// SetDataBits sets the number of data bits (5, 6, 7, or 8)
func (c *PortConfig) SetDataBits(bits int) error {
	if !validDataBits(bits) {
		return fmt.Errorf("%w: data bits %d", ErrInvalidParameter, bits)
	}
	c.DataBits = bits
	return nil
}

// SetStopBits sets the number of stop bits (1 or 2)
func (c *PortConfig) SetStopBits(bits int) error {
	if bits != 1 && bits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidParameter, bits)
	}
	c.StopBits = bits
	return nil
}

// SetParity sets the parity mode
func (c *PortConfig) SetParity(p Parity) error {
	if !p.Valid() {
		return fmt.Errorf("%w: parity %d", ErrInvalidParameter, int(p))
	}
	c.Parity = p
	return nil
}

// SetFlowControl sets the flow control mode
func (c *PortConfig) SetFlowControl(fc FlowControl) error {
	if !fc.Valid() {
		return fmt.Errorf("%w: flow control %d", ErrInvalidParameter, int(fc))
	}
	c.FlowControl = fc
	return nil
}

// SetReadTimeout sets the read timeout. It must be at least a millisecond:
// the read loop relies on reads blocking for a while and returning
// periodically.
func (c *PortConfig) SetReadTimeout(d time.Duration) error {
	if d < time.Millisecond {
		return fmt.Errorf("%w: read timeout %v", ErrInvalidParameter, d)
	}
	c.ReadTimeout = d
	return nil
}

// Validate checks every field. Drivers call it before touching the device.
func (c PortConfig) Validate() error {
	if c.PortName == "" {
		return fmt.Errorf("%w: empty port name", ErrInvalidParameter)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, c.BaudRate)
	}
	if !validDataBits(c.DataBits) {
		return fmt.Errorf("%w: data bits %d", ErrInvalidParameter, c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidParameter, c.StopBits)
	}
	if !c.Parity.Valid() {
		return fmt.Errorf("%w: parity %d", ErrInvalidParameter, int(c.Parity))
	}
	if !c.FlowControl.Valid() {
		return fmt.Errorf("%w: flow control %d", ErrInvalidParameter, int(c.FlowControl))
	}
	if c.ReadTimeout < time.Millisecond {
		return fmt.Errorf("%w: read timeout %v", ErrInvalidParameter, c.ReadTimeout)
	}
	return nil
}

// LineString renders the line settings as "115200 8N1".
func (c PortConfig) LineString() string {
	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, c.Parity.Letter(), c.StopBits)
}

func validDataBits(bits int) bool {
	return bits >= 5 && bits <= 8
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *PortConfig) error {
		return c.SetBaudRate(rate)
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *PortConfig) error {
		return c.SetDataBits(bits)
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *PortConfig) error {
		return c.SetStopBits(bits)
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *PortConfig) error {
		return c.SetParity(parity)
	}
}

// WithFlowControl sets the flow control mode
func WithFlowControl(fc FlowControl) Option {
	return func(c *PortConfig) error {
		return c.SetFlowControl(fc)
	}
}

// WithReadTimeout sets the per-read timeout
func WithReadTimeout(d time.Duration) Option {
	return func(c *PortConfig) error {
		return c.SetReadTimeout(d)
	}
}

// Package link manages one serial connection for the lifetime of a
// console session: opening and closing the port, a background read loop,
// recovery from unplugged devices and ordered delivery of what happened
// to a single consumer.
//
// A consumer waits on Ready and then calls Drain or Dispatch from its own
// loop. Events are never delivered concurrently, and the StateEvent that
// reports a stopped read loop always comes after that loop's last
// ReadEvent.
package link

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	serial "github.com/allbin/serialconsole"
)

// ErrShutdown is returned by Open after Shutdown.
var ErrShutdown = errors.New("link is shut down")

const defaultReadBufferSize = 4096

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Link) {
		l.logger = logger
	}
}

// WithClock sets the clock used for reconnect polling and read timestamps.
func WithClock(c clock.Clock) Option {
	return func(l *Link) {
		l.clock = c
	}
}

// WithReconnectPolicy sets the initial reconnect policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(l *Link) {
		l.policy = p
	}
}

// WithConfig sets the initial port configuration.
func WithConfig(c serial.PortConfig) Option {
	return func(l *Link) {
		l.config = c
	}
}

// WithReadBufferSize sets the size of the buffer handed to each Read.
func WithReadBufferSize(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.readBufferSize = n
		}
	}
}

// Link owns one serial port at a time.
type Link struct {
	driver         serial.Driver
	logger         *zap.SugaredLogger
	clock          clock.Clock
	readBufferSize int
	events         *mailbox

	// opMu serializes Open, Close and Shutdown.
	opMu sync.Mutex

	mu       sync.Mutex
	config   serial.PortConfig
	policy   ReconnectPolicy
	port     serial.Port
	sess     *session
	shutdown bool

	// state mirrors the field guarded by mu for lock-free reads.
	state atomic.Int32

	policyChanged chan struct{}
}

// session is one Open..Close cycle of the read loop.
type session struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSession() *session {
	return &session{stop: make(chan struct{}), done: make(chan struct{})}
}

func (s *session) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// New creates a closed Link that opens ports through driver.
func New(driver serial.Driver, opts ...Option) *Link {
	l := &Link{
		driver:         driver,
		logger:         zap.NewNop().Sugar(),
		clock:          clock.New(),
		readBufferSize: defaultReadBufferSize,
		events:         newMailbox(),
		config:         serial.DefaultConfig(),
		policy:         DefaultReconnectPolicy(),
		policyChanged:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.policy.PollInterval <= 0 {
		l.policy.PollInterval = DefaultReconnectPolicy().PollInterval
	}
	return l
}

// State returns the current connection state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// setStateLocked records s and queues the matching event. l.mu must be
// held so the event order matches the order of transitions.
func (l *Link) setStateLocked(s State) {
	l.state.Store(int32(s))
	l.events.push(StateEvent{State: s, Port: l.config.PortName})
}

// Open opens the configured port. See OpenWith.
func (l *Link) Open() error {
	return l.OpenWith(l.Config())
}

// OpenWith stores config and opens its port. It does nothing and returns
// nil when the link is already Open or Reconnecting.
//
// A failed open leaves the link Closed, queues an ErrorEvent and returns a
// *serial.PortError. A link name whose device is momentarily missing
// returns the error without an event.
func (l *Link) OpenWith(config serial.PortConfig) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return ErrShutdown
	}
	if l.sess != nil {
		l.mu.Unlock()
		return nil
	}
	l.config = config
	l.mu.Unlock()

	log := l.logger.With("port", config.PortName)
	log.Debugw("opening port", "line", config.LineString(), "flow_control", config.FlowControl)

	port, err := l.driver.Open(config)
	if err != nil {
		kind := serial.Classify(err)
		if kind == serial.KindTransientMissing {
			log.Debugw("port not present yet", "error", err)
			return err
		}
		log.Warnw("open failed", "kind", kind, "error", err)
		l.events.push(ErrorEvent{Kind: errorKind(kind), Port: config.PortName, Err: err})
		return err
	}

	sess := newSession()
	l.mu.Lock()
	l.port = port
	l.sess = sess
	l.setStateLocked(Open)
	l.mu.Unlock()

	log.Infow("port open", "line", config.LineString())
	go l.run(sess, port)
	return nil
}

// Close stops the read loop or reconnect supervisor and releases the port.
// It returns once the background goroutine has exited. Calling it on a
// closed link is a no-op. It is safe to call from an EventSink.
func (l *Link) Close() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	l.mu.Lock()
	sess := l.sess
	if sess == nil {
		l.mu.Unlock()
		return nil
	}
	sess.cancel()
	port := l.port
	l.port = nil
	l.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	<-sess.done
	return errors.Wrap(err, "closing port")
}

// Shutdown closes the link for good; later Opens fail with ErrShutdown.
func (l *Link) Shutdown() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	l.shutdown = true
	l.mu.Unlock()
	return l.closeLocked()
}

// Write sends data to the device. While the link is not Open the data is
// dropped and Write returns 0, nil.
func (l *Link) Write(data []byte) (int, error) {
	l.mu.Lock()
	port := l.port
	open := l.State() == Open
	l.mu.Unlock()

	if !open || port == nil {
		return 0, nil
	}
	n, err := port.Write(data)
	if err != nil {
		l.mu.Lock()
		released := l.port != port
		l.mu.Unlock()
		if released {
			// The handle was closed under the write; the link is no
			// longer Open for this port.
			return 0, nil
		}
		l.logger.Debugw("write failed", "port", port.Name(), "error", err)
		return n, errors.Wrap(err, "writing to port")
	}
	return n, nil
}

// Ready is signalled when events are waiting. Several pushes may share one
// signal, so a consumer drains everything each time it wakes.
func (l *Link) Ready() <-chan struct{} {
	return l.events.ready
}

// Drain removes and returns all queued events in order.
func (l *Link) Drain() []Event {
	return l.events.drain()
}

// Dispatch drains the queue into sink and returns how many events it
// delivered.
func (l *Link) Dispatch(sink EventSink) int {
	events := l.Drain()
	for _, ev := range events {
		Deliver(sink, ev)
	}
	return len(events)
}

// run is the read loop of one session.
func (l *Link) run(sess *session, port serial.Port) {
	defer close(sess.done)

	buf := make([]byte, l.readBufferSize)
	for {
		if sess.stopped() {
			l.finish(sess, port)
			return
		}

		n, err := port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			l.events.push(ReadEvent{Data: data, Time: l.clock.Now()})
		}
		if err == nil {
			continue
		}

		kind := serial.Classify(err)
		if kind == serial.KindExpectedClose || sess.stopped() {
			l.finish(sess, port)
			return
		}

		log := l.logger.With("port", port.Name())
		if kind == serial.KindBusy {
			log.Warnw("port busy", "error", err)
			l.events.push(ErrorEvent{Kind: ErrorBusy, Port: port.Name(), Err: err})
			l.finish(sess, port)
			return
		}

		if !l.ReconnectPolicy().Enabled {
			log.Warnw("connection lost", "kind", kind, "error", err)
			l.events.push(ErrorEvent{Kind: errorKind(kind), Port: port.Name(), Err: err})
			l.finish(sess, port)
			return
		}

		log.Infow("connection lost, reconnecting", "kind", kind, "error", err)
		if !l.detach(sess, Reconnecting) {
			l.finish(sess, port)
			return
		}
		if cerr := port.Close(); cerr != nil {
			log.Debugw("closing lost port", "error", cerr)
		}
		port = l.reconnect(sess)
		if port == nil {
			l.finish(sess, nil)
			return
		}
	}
}

// detach drops the session's port from the link and moves to next, so
// writes stop reaching the handle before it is closed. It reports false
// when sess has been cancelled.
func (l *Link) detach(sess *session, next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sess.stopped() || l.sess != sess {
		return false
	}
	l.port = nil
	l.setStateLocked(next)
	return true
}

// finish moves the link to Closed if sess is still the current session,
// then releases port.
func (l *Link) finish(sess *session, port serial.Port) {
	l.mu.Lock()
	current := l.sess == sess
	if current {
		l.sess = nil
		l.port = nil
		l.setStateLocked(Closed)
	}
	name := l.config.PortName
	l.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			l.logger.Debugw("closing port", "port", port.Name(), "error", err)
		}
	}
	if current {
		l.logger.Infow("port closed", "port", name)
	}
}

// Config returns a copy of the current port configuration.
func (l *Link) Config() serial.PortConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// update applies fn to a copy of the configuration and stores it when fn
// accepts the value. Line settings are pushed to an open port right away
// if its driver can reconfigure; otherwise they apply on the next open.
func (l *Link) update(fn func(*serial.PortConfig) error) error {
	l.mu.Lock()
	config := l.config
	if err := fn(&config); err != nil {
		l.mu.Unlock()
		return err
	}
	l.config = config
	port := l.port
	l.mu.Unlock()

	if port == nil {
		return nil
	}
	r, ok := port.(serial.Reconfigurer)
	if !ok {
		return nil
	}
	if err := r.Reconfigure(config); err != nil {
		l.logger.Warnw("live reconfigure failed", "port", port.Name(), "error", err)
		return errors.Wrap(err, "applying settings to open port")
	}
	return nil
}

// SetPortName changes the device used by the next open.
func (l *Link) SetPortName(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.SetPortName(name)
}

func (l *Link) SetBaudRate(rate int) error {
	return l.update(func(c *serial.PortConfig) error { return c.SetBaudRate(rate) })
}

func (l *Link) SetDataBits(bits int) error {
	return l.update(func(c *serial.PortConfig) error { return c.SetDataBits(bits) })
}

func (l *Link) SetStopBits(bits int) error {
	return l.update(func(c *serial.PortConfig) error { return c.SetStopBits(bits) })
}

func (l *Link) SetParity(p serial.Parity) error {
	return l.update(func(c *serial.PortConfig) error { return c.SetParity(p) })
}

func (l *Link) SetFlowControl(fc serial.FlowControl) error {
	return l.update(func(c *serial.PortConfig) error { return c.SetFlowControl(fc) })
}

// SetReadTimeout takes effect on the next open.
func (l *Link) SetReadTimeout(d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.SetReadTimeout(d)
}

// ReconnectPolicy returns the current policy.
func (l *Link) ReconnectPolicy() ReconnectPolicy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policy
}

// SetReconnectEnabled turns automatic reconnect on or off. Turning it off
// while Reconnecting stops the supervisor and closes the link.
func (l *Link) SetReconnectEnabled(enabled bool) {
	l.mu.Lock()
	l.policy.Enabled = enabled
	l.mu.Unlock()
	l.notifyPolicy()
}

// SetReconnectInterval changes how often the supervisor polls.
func (l *Link) SetReconnectInterval(d time.Duration) error {
	if d <= 0 {
		return errors.Wrapf(serial.ErrInvalidParameter, "reconnect interval %v", d)
	}
	l.mu.Lock()
	l.policy.PollInterval = d
	l.mu.Unlock()
	l.notifyPolicy()
	return nil
}

func (l *Link) notifyPolicy() {
	select {
	case l.policyChanged <- struct{}{}:
	default:
	}
}

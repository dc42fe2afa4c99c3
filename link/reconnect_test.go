package link

import (
	"bytes"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	serial "github.com/allbin/serialconsole"
)

const pollInterval = time.Second

func newReconnectLink(t *testing.T, d *fakeDriver) (*Link, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	l := newTestLink(t, d,
		WithClock(mock),
		WithReconnectPolicy(ReconnectPolicy{Enabled: true, PollInterval: pollInterval}),
	)
	return l, mock
}

// advanceUntil ticks the mock clock one poll interval at a time until cond
// holds. Ticks that land before the supervisor has created its ticker are
// simply lost, so it keeps going.
func advanceUntil(t *testing.T, mock *clock.Mock, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		mock.Add(pollInterval)
	}
}

func disconnect(p *fakePort) {
	p.fail(&serial.PortError{Op: "read", Port: p.name, Kind: serial.KindDisconnected, Err: syscall.EIO})
}

// lose opens the link, removes the device and waits for Reconnecting.
func lose(t *testing.T, l *Link, d *fakeDriver) ([]Event, *fakePort) {
	t.Helper()
	test.That(t, l.Open(), test.ShouldBeNil)
	p := d.nextPort(t)
	d.setPorts()
	disconnect(p)
	events := collect(t, l, isState(Reconnecting))
	test.That(t, l.State(), test.ShouldEqual, Reconnecting)
	p.waitClosed(t)
	return events, p
}

func TestReconnectAfterUnplug(t *testing.T) {
	d := newFakeDriver(ttyUSB0)
	l, mock := newReconnectLink(t, d)

	events, _ := lose(t, l, d)

	// Absent from the list: polled, never opened.
	advanceUntil(t, mock, func() bool { return d.listCount() >= 2 })
	test.That(t, d.openCount(), test.ShouldEqual, 1)
	test.That(t, l.State(), test.ShouldEqual, Reconnecting)

	d.setPorts(ttyUSB0)
	advanceUntil(t, mock, func() bool { return l.State() == Open })
	p := d.nextPort(t)

	p.feed("after")
	events = append(events, collect(t, l, func(ev Event) bool {
		re, ok := ev.(ReadEvent)
		return ok && bytes.Equal(re.Data, []byte("after"))
	})...)

	test.That(t, states(events), test.ShouldResemble, []State{Open, Reconnecting, Open})
	test.That(t, errorEvents(events), test.ShouldBeEmpty)

	n, err := l.Write([]byte("x"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)
	test.That(t, p.writeCount(), test.ShouldEqual, 1)
}

func TestWriteWhileReconnectingIsDropped(t *testing.T) {
	d := newFakeDriver(ttyUSB0)
	l, _ := newReconnectLink(t, d)

	_, p := lose(t, l, d)
	n, err := l.Write([]byte("dropped"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, p.writeCount(), test.ShouldEqual, 0)
}

func TestDisableWhileReconnecting(t *testing.T) {
	d := newFakeDriver(ttyUSB0)
	l, _ := newReconnectLink(t, d)

	events, _ := lose(t, l, d)

	// No clock advance: turning the policy off wakes the supervisor.
	l.SetReconnectEnabled(false)
	events = append(events, collect(t, l, isState(Closed))...)

	test.That(t, states(events), test.ShouldResemble, []State{Open, Reconnecting, Closed})
	test.That(t, errorEvents(events), test.ShouldBeEmpty)
	test.That(t, l.State(), test.ShouldEqual, Closed)
}

func TestCloseWhileReconnecting(t *testing.T) {
	d := newFakeDriver(ttyUSB0)
	l, _ := newReconnectLink(t, d)

	lose(t, l, d)
	test.That(t, l.Close(), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, Closed)

	events := l.Drain()
	test.That(t, states(events), test.ShouldResemble, []State{Closed})
	test.That(t, errorEvents(events), test.ShouldBeEmpty)
}

func TestCloseWaitsForInFlightPoll(t *testing.T) {
	d := newFakeDriver(ttyUSB0)
	l, mock := newReconnectLink(t, d)

	lose(t, l, d)

	gate := make(chan struct{})
	d.setListGate(gate)
	d.setPorts(ttyUSB0)
	lists := d.listCount()
	advanceUntil(t, mock, func() bool { return d.listCount() > lists })

	closed := make(chan error, 1)
	go func() { closed <- l.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a poll was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-closed:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	test.That(t, l.State(), test.ShouldEqual, Closed)

	// The poll found the port and opened it, saw the cancellation and let
	// it go again.
	d.mu.Lock()
	opened := d.opened
	d.mu.Unlock()
	test.That(t, len(opened), test.ShouldEqual, 2)
	test.That(t, opened[1].isClosed(), test.ShouldBeTrue)
	test.That(t, states(l.Drain()), test.ShouldResemble, []State{Closed})
}

func TestReconnectRetriesOpenFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		level   zapcore.Level
		message string
	}{
		{
			"transient missing",
			&serial.PortError{Op: "open", Port: ttyUSB0, Kind: serial.KindTransientMissing, Err: syscall.ENOENT},
			zapcore.DebugLevel,
			"port not ready",
		},
		{
			"permission denied",
			&serial.PortError{Op: "open", Port: ttyUSB0, Kind: serial.KindPermissionDenied, Err: syscall.EACCES},
			zapcore.WarnLevel,
			"reopen failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			mock := clock.NewMock()
			d := newFakeDriver(ttyUSB0)
			l := New(d,
				WithLogger(zap.New(core).Sugar()),
				WithConfig(testConfig(ttyUSB0)),
				WithClock(mock),
				WithReconnectPolicy(ReconnectPolicy{Enabled: true, PollInterval: pollInterval}),
			)
			defer func() { test.That(t, l.Shutdown(), test.ShouldBeNil) }()

			events, _ := lose(t, l, d)
			d.setPorts(ttyUSB0)
			d.setOpenErr(tt.err)

			failures := func() int { return logs.FilterMessage(tt.message).Len() }
			advanceUntil(t, mock, func() bool { return failures() >= 2 })
			test.That(t, l.State(), test.ShouldEqual, Reconnecting)
			for _, entry := range logs.FilterMessage(tt.message).All() {
				test.That(t, entry.Level, test.ShouldEqual, tt.level)
			}

			d.setOpenErr(nil)
			advanceUntil(t, mock, func() bool { return l.State() == Open })
			events = append(events, collect(t, l, isState(Open))...)

			test.That(t, states(events), test.ShouldResemble, []State{Open, Reconnecting, Open})
			test.That(t, errorEvents(events), test.ShouldBeEmpty)
		})
	}
}

func TestReconnectIntervalChange(t *testing.T) {
	d := newFakeDriver(ttyUSB0)
	l, mock := newReconnectLink(t, d)

	lose(t, l, d)
	test.That(t, l.SetReconnectInterval(10*time.Second), test.ShouldBeNil)

	lists := d.listCount()
	// Give the supervisor a moment to pick up the new interval.
	time.Sleep(20 * time.Millisecond)
	mock.Add(pollInterval)
	time.Sleep(20 * time.Millisecond)
	test.That(t, d.listCount(), test.ShouldEqual, lists)

	mock.Add(10 * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for d.listCount() == lists && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	test.That(t, d.listCount(), test.ShouldBeGreaterThan, lists)
}

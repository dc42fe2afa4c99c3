package link

import (
	"errors"
	"syscall"
	"testing"

	"go.viam.com/test"

	serial "github.com/allbin/serialconsole"
)

func TestMailbox(t *testing.T) {
	m := newMailbox()
	test.That(t, m.drain(), test.ShouldBeEmpty)

	m.push(StateEvent{State: Open})
	m.push(ReadEvent{Data: []byte("a")})
	m.push(ReadEvent{Data: []byte("b")})

	// Three pushes, one pending signal.
	test.That(t, len(m.ready), test.ShouldEqual, 1)
	<-m.ready

	got := m.drain()
	test.That(t, got, test.ShouldResemble, []Event{
		StateEvent{State: Open},
		ReadEvent{Data: []byte("a")},
		ReadEvent{Data: []byte("b")},
	})
	test.That(t, m.drain(), test.ShouldBeEmpty)

	m.push(StateEvent{State: Closed})
	test.That(t, len(m.ready), test.ShouldEqual, 1)
}

func TestSinksFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	sinks := Sinks{a, b}

	events := []Event{
		StateEvent{State: Open, Port: "/dev/ttyS0"},
		ReadEvent{Data: []byte("x")},
		ErrorEvent{Kind: ErrorBusy, Port: "/dev/ttyS0", Err: syscall.EBUSY},
	}
	for _, ev := range events {
		Deliver(sinks, ev)
	}
	test.That(t, a.events, test.ShouldResemble, events)
	test.That(t, b.events, test.ShouldResemble, events)
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent{
		Kind: ErrorPermissionDenied,
		Port: "/dev/ttyUSB0",
		Err:  &serial.PortError{Op: "open", Port: "/dev/ttyUSB0", Kind: serial.KindPermissionDenied, Err: syscall.EACCES},
	}
	code, ok := ev.RawCode()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, code, test.ShouldEqual, int(syscall.EACCES))
	test.That(t, ev.Error(), test.ShouldContainSubstring, "permission denied")
	test.That(t, ev.Error(), test.ShouldContainSubstring, "/dev/ttyUSB0")

	_, ok = ErrorEvent{Kind: ErrorOther, Err: errors.New("no code")}.RawCode()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestErrorKindMapping(t *testing.T) {
	test.That(t, errorKind(serial.KindPermissionDenied), test.ShouldEqual, ErrorPermissionDenied)
	test.That(t, errorKind(serial.KindBusy), test.ShouldEqual, ErrorBusy)
	test.That(t, errorKind(serial.KindDisconnected), test.ShouldEqual, ErrorDisconnected)
	test.That(t, errorKind(serial.KindOther), test.ShouldEqual, ErrorOther)
}

func TestStateString(t *testing.T) {
	test.That(t, Closed.String(), test.ShouldEqual, "closed")
	test.That(t, Open.String(), test.ShouldEqual, "open")
	test.That(t, Reconnecting.String(), test.ShouldEqual, "reconnecting")
	test.That(t, State(7).String(), test.ShouldEqual, "State(7)")
}

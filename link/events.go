package link

import (
	"fmt"
	"sync"
	"time"

	serial "github.com/allbin/serialconsole"
)

// Event is one of StateEvent, ReadEvent or ErrorEvent.
type Event interface {
	isEvent()
}

// StateEvent reports a state transition.
type StateEvent struct {
	State State
	Port  string
}

// ReadEvent carries the bytes of one device read, unmodified.
type ReadEvent struct {
	Data []byte
	Time time.Time
}

// ErrorKind is the user-facing category of an ErrorEvent.
type ErrorKind int

const (
	ErrorOther ErrorKind = iota
	ErrorPermissionDenied
	ErrorBusy
	ErrorDisconnected
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPermissionDenied:
		return "permission denied"
	case ErrorBusy:
		return "busy"
	case ErrorDisconnected:
		return "disconnected"
	default:
		return "other"
	}
}

// ErrorEvent reports a failure the user should see.
type ErrorEvent struct {
	Kind ErrorKind
	Port string
	Err  error
}

// RawCode is the OS error number behind the event, if there is one.
func (e ErrorEvent) RawCode() (int, bool) {
	return serial.RawCode(e.Err)
}

func (e ErrorEvent) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Port, e.Kind, e.Err)
}

func (StateEvent) isEvent() {}
func (ReadEvent) isEvent()  {}
func (ErrorEvent) isEvent() {}

func errorKind(k serial.Kind) ErrorKind {
	switch k {
	case serial.KindPermissionDenied:
		return ErrorPermissionDenied
	case serial.KindBusy:
		return ErrorBusy
	case serial.KindDisconnected:
		return ErrorDisconnected
	default:
		return ErrorOther
	}
}

// EventSink consumes link events. Methods are called from the goroutine
// that calls Dispatch, one event at a time, in order.
type EventSink interface {
	StateChanged(StateEvent)
	DataRead(ReadEvent)
	Error(ErrorEvent)
}

// Sinks fans every event out to each sink in order.
type Sinks []EventSink

func (s Sinks) StateChanged(ev StateEvent) {
	for _, sink := range s {
		sink.StateChanged(ev)
	}
}

func (s Sinks) DataRead(ev ReadEvent) {
	for _, sink := range s {
		sink.DataRead(ev)
	}
}

func (s Sinks) Error(ev ErrorEvent) {
	for _, sink := range s {
		sink.Error(ev)
	}
}

// Deliver passes ev to the matching sink method.
func Deliver(sink EventSink, ev Event) {
	switch ev := ev.(type) {
	case StateEvent:
		sink.StateChanged(ev)
	case ReadEvent:
		sink.DataRead(ev)
	case ErrorEvent:
		sink.Error(ev)
	}
}

// mailbox is an unbounded single-consumer queue. push never blocks, so
// a consumer may call Close from inside an event handler while the read
// loop is still producing.
type mailbox struct {
	mu     sync.Mutex
	events []Event
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events
}

package link

import (
	"fmt"
	"time"
)

// State is the connection state of a Link.
type State int32

const (
	// Closed is the initial state and the state after Close.
	Closed State = iota
	// Open means a port is held and the read loop is running.
	Open
	// Reconnecting means the port was lost and the supervisor is polling
	// for it to come back.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ReconnectPolicy controls what happens after an unexpected disconnect.
type ReconnectPolicy struct {
	Enabled      bool
	PollInterval time.Duration
}

// DefaultReconnectPolicy polls once a second but is off.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{PollInterval: time.Second}
}

package gsusb

import "fmt"

// State identifies where a session is in the configure/start lifecycle.
type State uint8

// Session lifecycle. A session starts in StateOpened once the transport
// handshake succeeds; StateClosed is terminal.
const (
	StateClosed State = iota
	StateOpened
	StateConfigured
	StateRunning
	StateStopped
)

var stateNames = map[State]string{
	StateClosed:     "closed",
	StateOpened:     "opened",
	StateConfigured: "configured",
	StateRunning:    "running",
	StateStopped:    "stopped",
}

// String returns the lowercase state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// in reports whether s is one of the given states.
func (s State) in(states ...State) bool {
	for _, other := range states {
		if s == other {
			return true
		}
	}
	return false
}

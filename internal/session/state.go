package session

// State is the top-level state machine from spec §4.G.
type State int

const (
	Idle State = iota
	Registering
	Punching
	Connected
	Relay
	Closing
	Closed
	ErrorState
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Registering:
		return "REGISTERING"
	case Punching:
		return "PUNCHING"
	case Connected:
		return "CONNECTED"
	case Relay:
		return "RELAY"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	case ErrorState:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Path mirrors the active data path reported by Session.Path().
type Path int

const (
	PathNone Path = iota
	PathPunch
	PathRelay
)

func (p Path) String() string {
	switch p {
	case PathPunch:
		return "PUNCH"
	case PathRelay:
		return "RELAY"
	default:
		return "NONE"
	}
}

package matching

// State is the lifecycle of the synchronizer's ticket.
type State int

const (
	Idle     State = iota // no ticket
	Created               // ticket open, not being polled
	Waiting               // long poll in flight
	Resolved              // matched; terminal
	Failed                // unrecoverable error; terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Created:
		return "created"
	case Waiting:
		return "waiting"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Resolved || s == Failed
}

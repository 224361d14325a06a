package app

import (
	"errors"
	"fmt"
)

// State is where the user is in the session.
type State int

const (
	Anonymous State = iota
	Authenticated
	Matching
	Chatting
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Matching:
		return "matching"
	case Chatting:
		return "chatting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event moves the session between states.
type Event int

const (
	EventLoggedIn Event = iota
	EventHasThread
	EventNoThread
	EventMatched
	EventLeft
)

func (e Event) String() string {
	switch e {
	case EventLoggedIn:
		return "logged_in"
	case EventHasThread:
		return "has_thread"
	case EventNoThread:
		return "no_thread"
	case EventMatched:
		return "matched"
	case EventLeft:
		return "left"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var ErrInvalidTransition = errors.New("app: invalid state transition")

// Next returns the state after e happens in s.
func Next(s State, e Event) (State, error) {
	switch {
	case s == Anonymous && e == EventLoggedIn:
		return Authenticated, nil
	case s == Authenticated && e == EventHasThread:
		return Chatting, nil
	case s == Authenticated && e == EventNoThread:
		return Matching, nil
	case s == Matching && e == EventMatched:
		return Chatting, nil
	case s == Chatting && e == EventLeft:
		return Matching, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}

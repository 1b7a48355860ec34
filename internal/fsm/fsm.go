// Package fsm defines the streaming session state machine.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

const (
	EventBegin     Event = "begin"
	EventConnected Event = "connected"
	EventEnd       Event = "end"
	EventClosed    Event = "closed"
	EventFail      Event = "fail"
	EventReset     Event = "reset"
)

// Transition returns the state reached by applying event to current.
//
//	idle --begin--> connecting --connected--> active --end--> closing --closed--> closed --reset--> idle
//
// A connecting session may also end (user abort) and any live state may fail
// straight to closed.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		if event == EventBegin {
			return StateConnecting, nil
		}
	case StateConnecting:
		switch event {
		case EventConnected:
			return StateActive, nil
		case EventEnd:
			return StateClosing, nil
		case EventFail:
			return StateClosed, nil
		}
	case StateActive:
		switch event {
		case EventEnd:
			return StateClosing, nil
		case EventFail:
			return StateClosed, nil
		}
	case StateClosing:
		switch event {
		case EventClosed, EventFail:
			return StateClosed, nil
		}
	case StateClosed:
		if event == EventReset {
			return StateIdle, nil
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

// Live reports whether a session holds (or is acquiring) a channel.
func (s State) Live() bool {
	switch s {
	case StateConnecting, StateActive, StateClosing:
		return true
	default:
		return false
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

// Package session holds the per-connection transcription session and its state machine.
package session

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateClosed    State = "closed"
)

const (
	EventStart   Event = "start"
	EventEnd     Event = "end"
	EventFinal   Event = "final"
	EventDrained Event = "drained"
	EventFail    Event = "fail"
)

// Transition is the pure session state machine.
// fail is accepted from every state, including closed, so teardown can be repeated.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		switch current {
		case StateIdle, StateStreaming, StateDraining, StateClosed:
			return StateClosed, nil
		default:
			return current, fmt.Errorf("unknown state %q", current)
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateStreaming, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStreaming:
		switch event {
		case EventEnd, EventFinal:
			return StateDraining, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDraining:
		switch event {
		case EventFinal, EventDrained:
			return StateClosed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// AcceptsAudio reports whether audio frames are forwarded in state s.
func AcceptsAudio(s State) bool {
	return s == StateStreaming
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

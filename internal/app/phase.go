package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/callrelay/internal/domain"
	"github.com/looplab/fsm"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase events.
const (
	EventAccept = "accept"
	EventReject = "reject"
	EventAnswer = "answer"
	EventEnd    = "end"
	// EventTimeout ends a call nobody answered.
	EventTimeout = "timeout"
)

var nonTerminal = []string{
	string(domain.PhaseRinging),
	string(domain.PhaseAccepted),
	string(domain.PhaseConnected),
}

// PhaseMachine drives one call through ringing -> accepted -> connected,
// with rejected and ended as absorbing outcomes.
type PhaseMachine struct {
	f *fsm.FSM
}

// NewPhaseMachine starts in ringing. onChange, if set, is called after every
// transition that changed the phase.
func NewPhaseMachine(onChange func(from, to domain.Phase)) *PhaseMachine {
	callbacks := fsm.Callbacks{}
	if onChange != nil {
		callbacks["after_event"] = func(_ context.Context, e *fsm.Event) {
			if e.Src != e.Dst {
				onChange(domain.Phase(e.Src), domain.Phase(e.Dst))
			}
		}
	}
	return &PhaseMachine{
		f: fsm.NewFSM(
			string(domain.PhaseRinging),
			fsm.Events{
				{Name: EventAccept, Src: []string{string(domain.PhaseRinging)}, Dst: string(domain.PhaseAccepted)},
				{Name: EventReject, Src: []string{string(domain.PhaseRinging)}, Dst: string(domain.PhaseRejected)},
				{Name: EventAnswer, Src: nonTerminal, Dst: string(domain.PhaseConnected)},
				{Name: EventEnd, Src: nonTerminal, Dst: string(domain.PhaseEnded)},
				{Name: EventTimeout, Src: []string{string(domain.PhaseRinging)}, Dst: string(domain.PhaseEnded)},
			},
			callbacks,
		),
	}
}

func (m *PhaseMachine) Phase() domain.Phase { return domain.Phase(m.f.Current()) }

// Fire applies event. Re-entering the current phase (a second answer) is not
// an error; anything the graph does not allow is ErrInvalidTransition.
func (m *PhaseMachine) Fire(event string) error {
	err := m.f.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return nil
	}
	return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, m.Phase(), err)
}

// fsm.go - Per-operation lifecycle state machine.
//
// Every deposit or withdrawal walks building -> proven -> submitted and
// ends in exactly one of confirmed, timed_out, or rejected. The state is
// per operation; nothing here is shared across concurrent operations.

package engine

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Operation lifecycle states.
const (
	StateBuilding  = "building"
	StateProven    = "proven"
	StateSubmitted = "submitted"
	StateConfirmed = "confirmed"
	StateTimedOut  = "timed_out"
	StateRejected  = "rejected"
)

// Operation lifecycle events.
const (
	EventProve   = "prove"
	EventSubmit  = "submit"
	EventConfirm = "confirm"
	EventTimeout = "timeout"
	EventReject  = "reject"
)

// Observer is notified of every state transition of an operation. It is
// invoked inline on the operation's goroutine and must return promptly.
type Observer func(op, from, to string)

type operation struct {
	kind string
	fsm  *fsm.FSM
	log  zerolog.Logger
}

func newOperation(kind string, obs Observer, log zerolog.Logger) *operation {
	op := &operation{
		kind: kind,
		log:  log.With().Str("operation", kind).Logger(),
	}
	op.fsm = fsm.NewFSM(
		StateBuilding,
		fsm.Events{
			{Name: EventProve, Src: []string{StateBuilding}, Dst: StateProven},
			{Name: EventSubmit, Src: []string{StateProven}, Dst: StateSubmitted},
			{Name: EventConfirm, Src: []string{StateSubmitted}, Dst: StateConfirmed},
			{Name: EventTimeout, Src: []string{StateSubmitted}, Dst: StateTimedOut},
			{Name: EventReject, Src: []string{StateProven, StateSubmitted}, Dst: StateRejected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				op.log.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("operation transition")
				if obs != nil {
					obs(kind, e.Src, e.Dst)
				}
			},
		},
	)
	return op
}

// advance fires a lifecycle event. The call graph only fires legal events,
// so a transition error indicates a bug and is logged, not returned.
func (o *operation) advance(event string) {
	if err := o.fsm.Event(context.Background(), event); err != nil {
		o.log.Error().Err(err).Str("event", event).Msg("illegal operation transition")
	}
}

func (o *operation) state() string { return o.fsm.Current() }

package speech

import (
	"context"
	"log/slog"
)

// State is a step in the lifecycle of one request.
//
//	Init → Synthesizing → SynthesisFailed
//	                    → Synthesized → Transcribing → AlignmentUnavailable
//	                                                 → Aligning → Done
type State int

const (
	StateInit State = iota
	StateSynthesizing
	StateSynthesisFailed
	StateSynthesized
	StateTranscribing
	StateAlignmentUnavailable
	StateAligning
	StateDone
)

var stateNames = [...]string{
	StateInit:                 "init",
	StateSynthesizing:         "synthesizing",
	StateSynthesisFailed:      "synthesis_failed",
	StateSynthesized:          "synthesized",
	StateTranscribing:         "transcribing",
	StateAlignmentUnavailable: "alignment_unavailable",
	StateAligning:             "aligning",
	StateDone:                 "done",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateSynthesisFailed, StateAlignmentUnavailable, StateDone:
		return true
	}
	return false
}

// transitions lists the legal successors of every non-terminal state.
var transitions = map[State][]State{
	StateInit:         {StateSynthesizing},
	StateSynthesizing: {StateSynthesisFailed, StateSynthesized},
	StateSynthesized:  {StateTranscribing},
	StateTranscribing: {StateAlignmentUnavailable, StateAligning},
	StateAligning:     {StateDone, StateAlignmentUnavailable},
}

// CanTransition reports whether to is a legal successor of s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// tracker follows one request through its states. Transitions are logged at
// debug level; an illegal transition is logged at error level and ignored.
type tracker struct {
	ctx   context.Context
	log   *slog.Logger
	state State
}

func newTracker(ctx context.Context, log *slog.Logger) *tracker {
	return &tracker{ctx: ctx, log: log, state: StateInit}
}

func (t *tracker) to(next State) {
	if !t.state.CanTransition(next) {
		t.log.ErrorContext(t.ctx, "speech: illegal state transition",
			"from", t.state.String(), "to", next.String())
		return
	}
	t.log.DebugContext(t.ctx, "speech: state", "from", t.state.String(), "to", next.String())
	t.state = next
}

// Package session orchestrates the recording-to-analysis lifecycle of one
// meeting session: capture, dual-socket transport, tier reconciliation, and
// the analysis handoff.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// MeetingState is the lifecycle state of a session.
type MeetingState int

const (
	// StateIdle - no session activity; fresh or reset.
	StateIdle MeetingState = iota
	// StateRecording - capture and streaming in progress.
	StateRecording
	// StateFinalizing - stop sent, waiting for the final tier event.
	StateFinalizing
	// StateProcessing - analysis call in flight over the recorded blob.
	StateProcessing
	// StateAnalysisReady - analysis finished; session can be dismissed.
	StateAnalysisReady
	// StateError - unrecoverable failure; only a reset leaves this state.
	StateError
)

// String returns the string representation of the state.
func (s MeetingState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateFinalizing:
		return "FINALIZING"
	case StateProcessing:
		return "PROCESSING"
	case StateAnalysisReady:
		return "ANALYSIS_READY"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// IsTerminal returns true for states a session can only leave via reset.
func (s MeetingState) IsTerminal() bool {
	return s == StateAnalysisReady || s == StateError
}

// ErrInvalidTransition is returned for transitions outside the state machine.
var ErrInvalidTransition = errors.New("invalid session state transition")

// validTransitions lists the forward edges of the state machine. ERROR is
// reachable from every state and handled separately; reset is handled by
// Reset.
var validTransitions = map[MeetingState][]MeetingState{
	StateIdle:       {StateRecording},
	StateRecording:  {StateFinalizing},
	StateFinalizing: {StateProcessing},
	StateProcessing: {StateAnalysisReady},
}

// Lifecycle manages the session state machine. Thread-safe.
//
// State transitions:
//
//	IDLE → RECORDING → FINALIZING → PROCESSING → ANALYSIS_READY
//	  any state ── Fail() ──→ ERROR
//	  ANALYSIS_READY / ERROR ── Reset() ──→ IDLE
type Lifecycle struct {
	mu    sync.RWMutex
	state MeetingState
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() MeetingState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Transition moves to the next state, validating the edge.
func (l *Lifecycle) Transition(to MeetingState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range validTransitions[l.state] {
		if allowed == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
}

// Fail moves to ERROR. Allowed from any state; idempotent.
func (l *Lifecycle) Fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateError
}

// Reset returns to IDLE from a terminal state.
func (l *Lifecycle) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsTerminal() && l.state != StateIdle {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, l.state)
	}
	l.state = StateIdle
	return nil
}

// Mode selects solo or collaborative operation.
type Mode int

const (
	// ModeSolo - single user, no broadcast connection.
	ModeSolo Mode = iota
	// ModeCollaborative - host/participant fan-out over the broadcast connection.
	ModeCollaborative
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m == ModeCollaborative {
		return "collaborative"
	}
	return "solo"
}

// Role is the session's part in a collaborative meeting.
type Role int

const (
	// RoleNone - solo session.
	RoleNone Role = iota
	// RoleHost - this session's microphone is the audio source.
	RoleHost
	// RoleParticipant - read-only follower of the host's transcript.
	RoleParticipant
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleParticipant:
		return "participant"
	default:
		return "none"
	}
}

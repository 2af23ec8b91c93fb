// Package transcript merges the three transcript refinement tiers delivered
// by the transcription backend into a single coherent display state.
package transcript

import (
	"fmt"
	"sync"
)

// Tier identifies the refinement level of a transcript event.
type Tier int

const (
	// TierNone - no tier has produced text yet.
	TierNone Tier = iota
	// TierFast - low-latency interim results.
	TierFast
	// TierMid - mid-quality cumulative results.
	TierMid
	// TierFinal - the authoritative polished transcript for the session.
	TierFinal
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierFast:
		return "fast"
	case TierMid:
		return "mid"
	case TierFinal:
		return "final"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// MidTierPolicy selects how mid-tier text is folded into the committed
// transcript. The backend's mid tier has been observed to behave either as an
// additive delta or as a cumulative replacement depending on deployment, so
// the policy is explicit configuration rather than a guess.
type MidTierPolicy int

const (
	// MidAppend - mid-tier text is appended to the committed transcript.
	MidAppend MidTierPolicy = iota
	// MidReplaceCumulative - mid-tier text replaces the committed transcript
	// wholesale (the backend sends the full cumulative text each time).
	MidReplaceCumulative
)

// String returns the string representation of the policy.
func (p MidTierPolicy) String() string {
	switch p {
	case MidAppend:
		return "append"
	case MidReplaceCumulative:
		return "replace-cumulative"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// ParseMidTierPolicy parses a policy name. Unknown names fall back to append.
func ParseMidTierPolicy(s string) MidTierPolicy {
	if s == "replace-cumulative" {
		return MidReplaceCumulative
	}
	return MidAppend
}

// Event is one transcript update from the backend (or relayed from a host).
// Events are ordered within a tier but carry no cross-tier ordering guarantee.
type Event struct {
	Tier           Tier
	Text           string
	IsFinalForTier bool
	Source         string
}

// State is the authoritative display state of the transcript.
// Committed grows monotonically until a final-tier event replaces it;
// Interim is ephemeral and holds the latest fast-tier guess.
type State struct {
	Committed  string
	Interim    string
	ActiveTier Tier
}

// Reconciler applies tier events to a transcript state.
//
// Reconciliation rules:
//   - fast, not final: replace Interim only
//   - fast, final:     append to Committed, clear Interim
//   - mid:             fold into Committed per MidTierPolicy, clear Interim
//   - final:           replace Committed wholesale, clear Interim, freeze
//
// A final-tier event finalizes the transcript: every later event is ignored.
// Apply is synchronous and never blocks. Re-applying the final event is a
// no-op because the replace is idempotent.
type Reconciler struct {
	mu        sync.RWMutex
	policy    MidTierPolicy
	state     State
	finalized bool
	applied   int
	ignored   int
}

// NewReconciler creates a reconciler with the given mid-tier policy.
func NewReconciler(policy MidTierPolicy) *Reconciler {
	return &Reconciler{policy: policy}
}

// Policy returns the configured mid-tier policy.
func (r *Reconciler) Policy() MidTierPolicy {
	return r.policy
}

// State returns a copy of the current transcript state.
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Finalized reports whether a final-tier event has been applied.
func (r *Reconciler) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalized
}

// Counts returns how many events were applied and how many were ignored.
func (r *Reconciler) Counts() (applied, ignored int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applied, r.ignored
}

// Apply folds one tier event into the state. It returns the resulting state
// and whether the event was applied (false once the transcript is finalized
// or for events carrying an unknown tier).
func (r *Reconciler) Apply(ev Event) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		r.ignored++
		return r.state, false
	}

	switch ev.Tier {
	case TierFast:
		if ev.IsFinalForTier {
			r.state.Committed = joinText(r.state.Committed, ev.Text)
			r.state.Interim = ""
		} else {
			r.state.Interim = ev.Text
		}
		r.state.ActiveTier = TierFast

	case TierMid:
		if r.policy == MidReplaceCumulative {
			r.state.Committed = ev.Text
		} else {
			r.state.Committed = joinText(r.state.Committed, ev.Text)
		}
		r.state.Interim = ""
		r.state.ActiveTier = TierMid

	case TierFinal:
		// Full replace regardless of what fast/mid committed before.
		r.state.Committed = ev.Text
		r.state.Interim = ""
		r.state.ActiveTier = TierFinal
		r.finalized = true

	default:
		r.ignored++
		return r.state, false
	}

	r.applied++
	return r.state, true
}

// Reset clears the state for a fresh session.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = State{}
	r.finalized = false
	r.applied = 0
	r.ignored = 0
}

func joinText(committed, text string) string {
	if text == "" {
		return committed
	}
	if committed == "" {
		return text
	}
	return committed + " " + text
}

package transcript

import "testing"

func TestApply_FastInterimReplacesOnly(t *testing.T) {
	r := NewReconciler(MidAppend)

	st, ok := r.Apply(Event{Tier: TierFast, Text: "Hel"})
	if !ok {
		t.Fatal("expected event to be applied")
	}
	if st.Interim != "Hel" {
		t.Errorf("expected interim 'Hel', got %q", st.Interim)
	}
	if st.Committed != "" {
		t.Errorf("expected empty committed, got %q", st.Committed)
	}

	st, _ = r.Apply(Event{Tier: TierFast, Text: "Hello"})
	if st.Interim != "Hello" {
		t.Errorf("expected interim replaced with 'Hello', got %q", st.Interim)
	}
	if st.Committed != "" {
		t.Errorf("interim must not touch committed, got %q", st.Committed)
	}
	if st.ActiveTier != TierFast {
		t.Errorf("expected active tier fast, got %s", st.ActiveTier)
	}
}

func TestApply_FastFinalCommitsAndClearsInterim(t *testing.T) {
	r := NewReconciler(MidAppend)

	r.Apply(Event{Tier: TierFast, Text: "Hello"})
	st, _ := r.Apply(Event{Tier: TierFast, Text: "Hello there", IsFinalForTier: true})

	if st.Committed != "Hello there" {
		t.Errorf("expected committed 'Hello there', got %q", st.Committed)
	}
	if st.Interim != "" {
		t.Errorf("expected interim cleared, got %q", st.Interim)
	}

	st, _ = r.Apply(Event{Tier: TierFast, Text: "how are you", IsFinalForTier: true})
	if st.Committed != "Hello there how are you" {
		t.Errorf("expected appended committed, got %q", st.Committed)
	}
}

func TestApply_MidAppendPolicy(t *testing.T) {
	r := NewReconciler(MidAppend)

	r.Apply(Event{Tier: TierFast, Text: "first", IsFinalForTier: true})
	r.Apply(Event{Tier: TierFast, Text: "interim guess"})
	st, _ := r.Apply(Event{Tier: TierMid, Text: "second"})

	if st.Committed != "first second" {
		t.Errorf("expected 'first second', got %q", st.Committed)
	}
	if st.Interim != "" {
		t.Errorf("mid event must clear interim, got %q", st.Interim)
	}
	if st.ActiveTier != TierMid {
		t.Errorf("expected active tier mid, got %s", st.ActiveTier)
	}
}

func TestApply_MidReplaceCumulativePolicy(t *testing.T) {
	r := NewReconciler(MidReplaceCumulative)

	r.Apply(Event{Tier: TierFast, Text: "rough", IsFinalForTier: true})
	st, _ := r.Apply(Event{Tier: TierMid, Text: "rough draft"})
	if st.Committed != "rough draft" {
		t.Errorf("expected cumulative replace 'rough draft', got %q", st.Committed)
	}

	st, _ = r.Apply(Event{Tier: TierMid, Text: "rough draft polished"})
	if st.Committed != "rough draft polished" {
		t.Errorf("expected cumulative replace, got %q", st.Committed)
	}
}

func TestApply_FinalReplacesWholesaleAndFreezes(t *testing.T) {
	r := NewReconciler(MidAppend)

	r.Apply(Event{Tier: TierFast, Text: "Hel"})
	r.Apply(Event{Tier: TierFast, Text: "Hello"})
	r.Apply(Event{Tier: TierFast, Text: "Hello there", IsFinalForTier: true})
	r.Apply(Event{Tier: TierMid, Text: "noise"})

	st, ok := r.Apply(Event{Tier: TierFinal, Text: "Hello there."})
	if !ok {
		t.Fatal("expected final event to be applied")
	}
	if st.Committed != "Hello there." {
		t.Errorf("final must replace wholesale, got %q", st.Committed)
	}
	if st.Interim != "" {
		t.Errorf("expected interim cleared, got %q", st.Interim)
	}
	if !r.Finalized() {
		t.Error("expected reconciler finalized")
	}

	// Late events of every tier are ignored after finalization.
	for _, ev := range []Event{
		{Tier: TierFast, Text: "late"},
		{Tier: TierMid, Text: "late"},
		{Tier: TierFast, Text: "late", IsFinalForTier: true},
	} {
		st, ok := r.Apply(ev)
		if ok {
			t.Errorf("expected %s event ignored after finalization", ev.Tier)
		}
		if st.Committed != "Hello there." {
			t.Errorf("committed changed after finalization: %q", st.Committed)
		}
	}

	_, ignored := r.Counts()
	if ignored != 3 {
		t.Errorf("expected 3 ignored events, got %d", ignored)
	}
}

func TestApply_InterimRunThenFinal(t *testing.T) {
	r := NewReconciler(MidAppend)

	for _, text := range []string{"Hel", "Hello", "Hello there"} {
		st, ok := r.Apply(Event{Tier: TierFast, Text: text})
		if !ok {
			t.Fatalf("interim %q not applied", text)
		}
		if st.Interim != text {
			t.Errorf("expected interim %q, got %q", text, st.Interim)
		}
		if st.Committed != "" {
			t.Errorf("interim run must not commit, got %q", st.Committed)
		}
	}

	st, _ := r.Apply(Event{Tier: TierFinal, Text: "Hello there, how are you?"})
	if st.Committed != "Hello there, how are you?" {
		t.Errorf("expected final text committed, got %q", st.Committed)
	}
	if st.Interim != "" {
		t.Errorf("expected empty interim after final, got %q", st.Interim)
	}
}

func TestApply_FinalIsIdempotent(t *testing.T) {
	r := NewReconciler(MidAppend)

	first, _ := r.Apply(Event{Tier: TierFinal, Text: "The complete transcript."})
	second, ok := r.Apply(Event{Tier: TierFinal, Text: "The complete transcript."})

	if ok {
		t.Error("expected duplicate final event to be reported as ignored")
	}
	if first != second {
		t.Errorf("re-applied final changed state: %+v vs %+v", first, second)
	}
}

func TestApply_UnknownTierIgnored(t *testing.T) {
	r := NewReconciler(MidAppend)

	_, ok := r.Apply(Event{Tier: Tier(99), Text: "garbage"})
	if ok {
		t.Error("expected unknown tier to be ignored")
	}
	applied, ignored := r.Counts()
	if applied != 0 || ignored != 1 {
		t.Errorf("expected 0 applied / 1 ignored, got %d/%d", applied, ignored)
	}
}

func TestReset_ClearsStateAndFreeze(t *testing.T) {
	r := NewReconciler(MidAppend)

	r.Apply(Event{Tier: TierFast, Text: "something", IsFinalForTier: true})
	r.Apply(Event{Tier: TierFinal, Text: "final text"})
	r.Reset()

	st := r.State()
	if st.Committed != "" || st.Interim != "" || st.ActiveTier != TierNone {
		t.Errorf("expected zero state after reset, got %+v", st)
	}
	if r.Finalized() {
		t.Error("expected finalized flag cleared after reset")
	}

	st, ok := r.Apply(Event{Tier: TierFast, Text: "fresh"})
	if !ok || st.Interim != "fresh" {
		t.Errorf("expected reconciler usable after reset, got ok=%v state=%+v", ok, st)
	}
}

func TestParseMidTierPolicy(t *testing.T) {
	if p := ParseMidTierPolicy("replace-cumulative"); p != MidReplaceCumulative {
		t.Errorf("expected replace-cumulative, got %s", p)
	}
	if p := ParseMidTierPolicy("append"); p != MidAppend {
		t.Errorf("expected append, got %s", p)
	}
	if p := ParseMidTierPolicy("bogus"); p != MidAppend {
		t.Errorf("expected fallback to append, got %s", p)
	}
}

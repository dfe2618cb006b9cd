package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// seedConflict stores a high-trust incumbent and a low-trust challenger for
// the same claim slot, leaving the challenger quarantined with one open
// pending conflict.
func seedConflict(t *testing.T, eng *Engine) (incumbent, challenger *StoreResult) {
	t.Helper()
	incumbent = mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User timezone is EST", Source: "user_explicit",
		Claim: &domain.Claim{Subject: "user", Predicate: "timezone", Value: "EST"},
	})
	challenger = mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User timezone is PST",
		Claim: &domain.Claim{Subject: "user", Predicate: "timezone", Value: "PST"},
	})
	if !challenger.Quarantined || challenger.PendingConflictID == "" {
		t.Fatalf("seed did not quarantine the challenger: %+v", challenger)
	}
	return incumbent, challenger
}

func TestResolveConflictSupersede(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	var resolved []domain.Event
	eng.On(domain.EventConflictResolved, func(ev domain.Event) { resolved = append(resolved, ev) })
	incumbent, challenger := seedConflict(t, eng)

	pc, err := eng.ResolveConflict(context.Background(), challenger.PendingConflictID, domain.ResolutionSupersede)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if pc.Open() || pc.Resolution != domain.ResolutionSupersede {
		t.Errorf("conflict record = %+v, want closed as supersede", pc)
	}

	winner, err := eng.Get(challenger.ID)
	if err != nil {
		t.Fatalf("Get winner: %v", err)
	}
	if winner.Status != domain.StatusActive {
		t.Errorf("winner status = %q, want active", winner.Status)
	}
	if winner.Quarantine == nil || winner.Quarantine.ResolvedAt == nil {
		t.Errorf("winner quarantine record not closed: %+v", winner.Quarantine)
	}
	loser, err := eng.Get(incumbent.ID)
	if err != nil {
		t.Fatalf("Get loser: %v", err)
	}
	if loser.Status != domain.StatusSuperseded || loser.SupersededBy != challenger.ID {
		t.Errorf("loser = status %q superseded_by %q", loser.Status, loser.SupersededBy)
	}

	if len(resolved) != 1 || resolved[0].Detail["resolution"] != domain.ResolutionSupersede {
		t.Errorf("resolved events = %+v", resolved)
	}
	if n := len(eng.PendingConflicts()); n != 0 {
		t.Errorf("open conflicts = %d, want 0", n)
	}

	// A closed conflict cannot be resolved again.
	if _, err := eng.ResolveConflict(context.Background(), challenger.PendingConflictID, domain.ResolutionReject); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second resolve error = %v, want ErrConflict", err)
	}
}

func TestResolveConflictReject(t *testing.T) {
	eng, store := newKeywordEngine(t, Config{})
	incumbent, challenger := seedConflict(t, eng)

	pc, err := eng.ResolveConflict(context.Background(), challenger.PendingConflictID, domain.ResolutionReject)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if pc.Resolution != domain.ResolutionReject {
		t.Errorf("resolution = %q", pc.Resolution)
	}

	if _, err := eng.Get(challenger.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rejected memory still active: err = %v", err)
	}
	if eng.Count() != 1 {
		t.Errorf("Count = %d, want 1", eng.Count())
	}
	if len(store.archive) != 1 || store.archive[0].ID != challenger.ID {
		t.Errorf("archive = %v, want the rejected memory", store.archive)
	}
	if store.archive[0].Status != domain.StatusArchived {
		t.Errorf("archived status = %q", store.archive[0].Status)
	}

	m, err := eng.Get(incumbent.ID)
	if err != nil {
		t.Fatalf("Get incumbent: %v", err)
	}
	if m.Status != domain.StatusActive {
		t.Errorf("incumbent status = %q, want untouched active", m.Status)
	}
}

func TestResolveConflictKeepBoth(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	incumbent, challenger := seedConflict(t, eng)

	if _, err := eng.ResolveConflict(context.Background(), challenger.PendingConflictID, domain.ResolutionKeepBoth); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	for _, id := range []string{incumbent.ID, challenger.ID} {
		m, err := eng.Get(id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if m.Status != domain.StatusActive {
			t.Errorf("%s status = %q, want active", id, m.Status)
		}
	}
}

func TestResolveConflictRejectsBadInput(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	_, challenger := seedConflict(t, eng)

	if _, err := eng.ResolveConflict(context.Background(), challenger.PendingConflictID, "merge"); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("unknown action error = %v, want ErrInvalid", err)
	}
	if _, err := eng.ResolveConflict(context.Background(), "no-such-conflict", domain.ResolutionReject); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestConflictsFilter(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	seedConflict(t, eng)
	mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User editor is vim", Source: "user_explicit",
		Claim: &domain.Claim{Subject: "user", Predicate: "editor", Value: "vim"},
	})
	res := mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User editor is emacs",
		Claim: &domain.Claim{Subject: "user", Predicate: "editor", Value: "emacs"},
	})
	if res.PendingConflictID == "" {
		t.Fatal("editor conflict not recorded")
	}

	if got := eng.Conflicts(ConflictFilter{}); len(got) != 2 {
		t.Errorf("all open = %d, want 2", len(got))
	}
	got := eng.Conflicts(ConflictFilter{Predicate: "editor"})
	if len(got) != 1 || got[0].NewClaim.Predicate != "editor" {
		t.Errorf("predicate filter = %+v", got)
	}
	if got := eng.Conflicts(ConflictFilter{Subject: "user", Predicate: "timezone"}); len(got) != 1 {
		t.Errorf("subject+predicate filter = %d, want 1", len(got))
	}

	if _, err := eng.ResolveConflict(context.Background(), res.PendingConflictID, domain.ResolutionReject); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if got := eng.Conflicts(ConflictFilter{Predicate: "editor"}); len(got) != 0 {
		t.Errorf("open editor conflicts after resolve = %d, want 0", len(got))
	}
	if got := eng.Conflicts(ConflictFilter{Predicate: "editor", IncludeClosed: true}); len(got) != 1 {
		t.Errorf("closed editor conflicts = %d, want 1", len(got))
	}
}

// A require_review predicate parks the new value even when its trust would
// win a supersede fight.
func TestRequireReviewPolicy(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	if err := eng.Predicates().Register(domain.PredicateSchema{
		Predicate:      "email",
		ConflictPolicy: domain.PolicyRequireReview,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User email is a@example.com",
		Claim: &domain.Claim{Subject: "user", Predicate: "email", Value: "a@example.com"},
	})
	res := mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User email is b@example.com", Source: "user_explicit",
		Claim: &domain.Claim{Subject: "user", Predicate: "email", Value: "b@example.com"},
	})

	if !res.Quarantined {
		t.Fatal("require_review did not quarantine the new value")
	}
	m, err := eng.Get(res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Quarantine == nil || m.Quarantine.Reason != domain.QuarantinePredicateRequiresReview {
		t.Errorf("quarantine = %+v, want predicate_requires_review", m.Quarantine)
	}
}

// keep_both stores conflicting values side by side with only a closed audit
// record.
func TestKeepBothPolicy(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	if err := eng.Predicates().Register(domain.PredicateSchema{
		Predicate:      "favorite_language",
		ConflictPolicy: domain.PolicyKeepBoth,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var pendingEvents int
	eng.On(domain.EventConflictPending, func(domain.Event) { pendingEvents++ })

	mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User loves Go",
		Claim: &domain.Claim{Subject: "user", Predicate: "favorite_language", Value: "go"},
	})
	res := mustStore(t, eng, StoreRequest{
		Agent: "planner", Text: "User loves Rust",
		Claim: &domain.Claim{Subject: "user", Predicate: "favorite_language", Value: "rust"},
	})

	if res.Quarantined || res.PendingConflictID != "" {
		t.Fatalf("keep_both held the new value: %+v", res)
	}
	if pendingEvents != 0 {
		t.Errorf("pending events = %d, want 0", pendingEvents)
	}
	if got := eng.Conflicts(ConflictFilter{}); len(got) != 0 {
		t.Errorf("open conflicts = %d, want 0", len(got))
	}
	closed := eng.Conflicts(ConflictFilter{IncludeClosed: true})
	if len(closed) != 1 || closed[0].Resolution != domain.ResolutionKeepBoth {
		t.Errorf("audit records = %+v, want one keep_both", closed)
	}
}

func TestManualQuarantineLifecycle(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "possibly wrong deploy note"})

	m, err := eng.Quarantine(context.Background(), res.ID, "", "double checking")
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if m.Status != domain.StatusQuarantined || m.Quarantine.Reason != domain.QuarantineManual {
		t.Errorf("memory = %q/%+v", m.Status, m.Quarantine)
	}
	if m.Quarantine.Details != "double checking" {
		t.Errorf("details = %q", m.Quarantine.Details)
	}

	if _, err := eng.Quarantine(context.Background(), res.ID, "", ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("double quarantine error = %v, want ErrConflict", err)
	}
	if _, err := eng.Quarantine(context.Background(), "mem-404", "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}

	other := mustStore(t, eng, StoreRequest{Agent: "other", Text: "a second held note"})
	if _, err := eng.Quarantine(context.Background(), other.ID, "suspicious_input", "odd encoding"); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	held := eng.ListQuarantined("", 0)
	if len(held) != 2 {
		t.Fatalf("quarantined = %d, want 2", len(held))
	}
	if held := eng.ListQuarantined("other", 0); len(held) != 1 || held[0].Quarantine.Reason != domain.QuarantineSuspiciousInput {
		t.Errorf("agent filter = %+v", held)
	}
	if held := eng.ListQuarantined("", 1); len(held) != 1 {
		t.Errorf("limit = %d entries, want 1", len(held))
	}

	activated, err := eng.ReviewQuarantine(context.Background(), res.ID, "activate", "confirmed fine")
	if err != nil {
		t.Fatalf("ReviewQuarantine: %v", err)
	}
	if activated.Status != domain.StatusActive {
		t.Errorf("status = %q, want active", activated.Status)
	}
	if activated.Quarantine.ResolvedAt == nil || activated.Quarantine.Resolution != "confirmed fine" {
		t.Errorf("quarantine record = %+v", activated.Quarantine)
	}
}

// Activating a quarantined claim replays the conflict check, so a value that
// still loses on trust goes straight back on hold with a fresh pending
// conflict.
func TestReviewQuarantineActivateReplaysConflict(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	_, challenger := seedConflict(t, eng)

	m, err := eng.ReviewQuarantine(context.Background(), challenger.ID, "activate", "")
	if err != nil {
		t.Fatalf("ReviewQuarantine: %v", err)
	}
	if m.Status != domain.StatusQuarantined {
		t.Fatalf("status = %q, want re-quarantined", m.Status)
	}
	if m.Quarantine.ResolvedAt != nil {
		t.Errorf("fresh hold already resolved: %+v", m.Quarantine)
	}
	if open := eng.PendingConflicts(); len(open) != 2 {
		t.Errorf("open conflicts = %d, want the original plus the replay", len(open))
	}
}

func TestReviewQuarantineReject(t *testing.T) {
	eng, store := newKeywordEngine(t, Config{})
	_, challenger := seedConflict(t, eng)

	m, err := eng.ReviewQuarantine(context.Background(), challenger.ID, "reject", "bad source")
	if err != nil {
		t.Fatalf("ReviewQuarantine: %v", err)
	}
	if m.Quarantine.Resolution != "bad source" {
		t.Errorf("resolution = %q", m.Quarantine.Resolution)
	}
	if _, err := eng.Get(challenger.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rejected memory still in graph: %v", err)
	}
	if len(store.archive) != 1 {
		t.Errorf("archive = %d entries, want 1", len(store.archive))
	}
	// Rejecting the memory settles its open conflicts too.
	if open := eng.PendingConflicts(); len(open) != 0 {
		t.Errorf("open conflicts = %d, want 0", len(open))
	}

	if _, err := eng.ReviewQuarantine(context.Background(), "mem-404", "activate", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
}

func TestReviewQuarantineRequiresHeldMemory(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})
	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "a perfectly normal memory"})

	if _, err := eng.ReviewQuarantine(context.Background(), res.ID, "activate", ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("active memory review error = %v, want ErrConflict", err)
	}
	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "held note", Quarantine: true})
	held := eng.ListQuarantined("", 0)
	if _, err := eng.ReviewQuarantine(context.Background(), held[0].ID, "promote", ""); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("unknown action error = %v, want ErrInvalid", err)
	}
}

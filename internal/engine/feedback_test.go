package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

func within(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestReinforceGrowsStability(t *testing.T) {
	advance := setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})
	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "the retro is every other thursday"})

	// A review three days out hits the full spacing window: stability jumps
	// from the initial 1.0 by the whole growth factor.
	advance(3 * 24 * time.Hour)
	m, err := eng.Reinforce(context.Background(), res.ID, 0.2)
	if err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	within(t, "stability", m.Stability, 2.5)
	within(t, "last interval", m.LastReviewInterval, 3)
	within(t, "importance", m.Importance, 0.7)
	if m.Reinforcements != 1 || m.AccessCount != 1 {
		t.Errorf("counters = %d/%d, want 1/1", m.Reinforcements, m.AccessCount)
	}
	if !m.UpdatedAt.Equal(timeNowForTest()) {
		t.Errorf("UpdatedAt = %v, want touched to now", m.UpdatedAt)
	}

	// A second review five days later is spaced 5/3 of the previous
	// interval, earning a partial growth step.
	advance(5 * 24 * time.Hour)
	m, err = eng.Reinforce(context.Background(), res.ID, 0.2)
	if err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	within(t, "stability", m.Stability, 2.5*(1+1.5*(5.0/3.0)/3))
	within(t, "last interval", m.LastReviewInterval, 5)
	within(t, "importance", m.Importance, 0.9)
}

func timeNowForTest() time.Time { return timeNow().UTC() }

func TestReinforceBounds(t *testing.T) {
	setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})
	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "importance never leaves the unit interval"})

	if _, err := eng.Reinforce(context.Background(), res.ID, -0.1); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("negative boost error = %v, want ErrInvalid", err)
	}
	if _, err := eng.Reinforce(context.Background(), res.ID, 1.5); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("oversize boost error = %v, want ErrInvalid", err)
	}
	if _, err := eng.Reinforce(context.Background(), "mem-404", 0.1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}

	// Zero boost takes the 0.1 default.
	m, err := eng.Reinforce(context.Background(), res.ID, 0)
	if err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	within(t, "importance", m.Importance, 0.6)

	// Importance caps at 1.
	m, err = eng.Reinforce(context.Background(), res.ID, 1)
	if err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	if m.Importance != 1 {
		t.Errorf("importance = %v, want capped at 1", m.Importance)
	}
}

func TestDisputeLowersTrustWithoutTouching(t *testing.T) {
	advance := setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})
	var events []domain.Event
	eng.On(domain.EventDispute, func(ev domain.Event) { events = append(events, ev) })

	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "the cache holds 4gb"})
	advance(24 * time.Hour)

	m, err := eng.Dispute(context.Background(), res.ID, "prod shows 2gb")
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if m.Disputes != 1 {
		t.Errorf("disputes = %d, want 1", m.Disputes)
	}
	// One dispute costs the full feedback term; one day of age barely more.
	if m.Provenance.Trust >= 0.35 || m.Provenance.Trust < 0.34 {
		t.Errorf("trust = %v, want just under 0.35", m.Provenance.Trust)
	}
	if m.Status != domain.StatusActive {
		t.Errorf("status = %q, want still active above the dispute floor", m.Status)
	}
	// Disputing is not a signal the memory is fresh: the decay clock holds.
	if !m.UpdatedAt.Equal(testEpoch) {
		t.Errorf("UpdatedAt = %v, want untouched %v", m.UpdatedAt, testEpoch)
	}
	if len(events) != 1 || events[0].Detail["reason"] != "prod shows 2gb" {
		t.Errorf("dispute events = %+v", events)
	}
}

func TestDisputeFlipsLowTrustMemory(t *testing.T) {
	advance := setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})
	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "an old inferred guess"})

	// A year of age adds the full 0.1 penalty: 0.5 - 0.15 - 0.1 = 0.25.
	advance(365 * 24 * time.Hour)
	m, err := eng.Dispute(context.Background(), res.ID, "stale")
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	within(t, "trust", m.Provenance.Trust, 0.25)
	if m.Status != domain.StatusDisputed {
		t.Errorf("status = %q, want disputed under 0.3 trust", m.Status)
	}

	// Disputed memories leave default search results.
	resp, err := eng.Search(context.Background(), "planner", "inferred guess", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("default search still returns the disputed memory")
	}
}

func TestCorroborateRaisesTrust(t *testing.T) {
	advance := setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})
	var events []domain.Event
	eng.On(domain.EventCorroborate, func(ev domain.Event) { events = append(events, ev) })

	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "deploys block on friday"})
	advance(time.Hour)

	m, err := eng.Corroborate(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("Corroborate: %v", err)
	}
	if m.Provenance.Corroboration != 2 {
		t.Errorf("corroboration = %d, want 2", m.Provenance.Corroboration)
	}
	within(t, "confidence", m.Confidence, 0.55)
	// Corroboration is a fresh sighting: the decay clock resets.
	if !m.UpdatedAt.Equal(timeNowForTest()) {
		t.Errorf("UpdatedAt = %v, want touched", m.UpdatedAt)
	}
	if len(events) != 1 || events[0].Detail["corroboration"] != 2 {
		t.Errorf("corroborate events = %+v", events)
	}

	if _, err := eng.Corroborate(context.Background(), "mem-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
}

func seedAgedMemory(id, text string, importance float64, age time.Duration) *domain.Memory {
	m := testMemory(id, "planner", text)
	m.Importance = importance
	m.CreatedAt = testEpoch.Add(-age)
	m.UpdatedAt = testEpoch.Add(-age)
	return m
}

func TestDecayBucketsByStrength(t *testing.T) {
	setClock(t, testEpoch)
	store := &memStore{}
	healthy := seedAgedMemory("mem-h", "fresh note", 0.5, 0)
	weakening := seedAgedMemory("mem-w", "month old note", 0.5, 30*24*time.Hour)
	archived := seedAgedMemory("mem-a", "two month old note", 0.5, 60*24*time.Hour)
	deleted := seedAgedMemory("mem-d", "long forgotten note", 0.5, 250*24*time.Hour)
	healthy.Links = []domain.Link{{TargetID: "mem-d", Similarity: 0.9, Type: domain.LinkSimilar}}
	archived.Embedding = []float32{1, 0, 0}
	store.memories = []*domain.Memory{healthy, weakening, archived, deleted}

	eng := New(store, nil, nil, zap.NewNop(), Config{})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var decayEvents []domain.Event
	eng.On(domain.EventDecay, func(ev domain.Event) { decayEvents = append(decayEvents, ev) })

	// Dry run reports the buckets and changes nothing.
	report, err := eng.Decay(context.Background(), true)
	if err != nil {
		t.Fatalf("Decay dry run: %v", err)
	}
	if !report.DryRun || report.Scanned != 4 {
		t.Errorf("report = dry %v scanned %d", report.DryRun, report.Scanned)
	}
	if report.Healthy != 1 {
		t.Errorf("healthy = %d, want 1", report.Healthy)
	}
	if len(report.Weakening) != 1 || report.Weakening[0].ID != "mem-w" {
		t.Errorf("weakening = %+v", report.Weakening)
	}
	if len(report.Archived) != 1 || report.Archived[0].ID != "mem-a" {
		t.Errorf("archived = %+v", report.Archived)
	}
	if len(report.Deleted) != 1 || report.Deleted[0].ID != "mem-d" {
		t.Errorf("deleted = %+v", report.Deleted)
	}
	if eng.Count() != 4 || len(store.archive) != 0 || store.saves != 0 || len(decayEvents) != 0 {
		t.Fatalf("dry run mutated state: count %d archive %d saves %d events %d",
			eng.Count(), len(store.archive), store.saves, len(decayEvents))
	}

	// The real pass archives both bottom buckets and prunes dangling links.
	report, err = eng.Decay(context.Background(), false)
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if report.DryRun {
		t.Error("second report marked dry run")
	}
	if eng.Count() != 2 {
		t.Errorf("Count = %d, want 2 survivors", eng.Count())
	}
	if len(store.archive) != 2 {
		t.Fatalf("archive = %d entries, want 2", len(store.archive))
	}
	for _, am := range store.archive {
		if am.Status != domain.StatusArchived || am.ArchivedAt == nil {
			t.Errorf("archive entry %s = status %q stamp %v", am.ID, am.Status, am.ArchivedAt)
		}
		if len(am.Embedding) != 0 {
			t.Errorf("archive entry %s kept its embedding", am.ID)
		}
	}

	m, err := eng.Get("mem-h")
	if err != nil {
		t.Fatalf("Get survivor: %v", err)
	}
	if len(m.Links) != 0 {
		t.Errorf("survivor still links to archived memory: %+v", m.Links)
	}
	if len(decayEvents) != 1 {
		t.Fatalf("decay events = %d, want 1", len(decayEvents))
	}
	if decayEvents[0].Detail["archived"] != 1 || decayEvents[0].Detail["deleted"] != 1 {
		t.Errorf("decay event detail = %v", decayEvents[0].Detail)
	}
}

// With an aggressive archive threshold even a fresh default-importance
// memory falls out of the active graph.
func TestDecayArchivesBelowThreshold(t *testing.T) {
	setClock(t, testEpoch)
	eng, store := newKeywordEngine(t, Config{ArchiveThreshold: 0.9, DeleteThreshold: 0.01})
	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "barely worth keeping"})

	report, err := eng.Decay(context.Background(), false)
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if report.Scanned != 1 || len(report.Archived) != 1 {
		t.Fatalf("report = %+v, want one archived entry", report)
	}
	if report.Archived[0].Strength != 0.5 {
		t.Errorf("strength = %v, want the fresh default 0.5", report.Archived[0].Strength)
	}
	if _, err := eng.Get(res.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("archived memory still readable: %v", err)
	}
	if len(store.archive) != 1 {
		t.Errorf("archive = %d entries, want 1", len(store.archive))
	}
	assertIndexesConsistent(t, eng)
}

// Spaced reviews move a memory onto the SM-2 curve with enough stability to
// outlast an untouched sibling on the legacy half-life curve.
func TestDecaySparesReinforcedMemories(t *testing.T) {
	advance := setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})
	kept := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "reviewed often enough to stick"})
	lost := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "never looked at again"})

	// Reviews at 3, 9 and 27 day intervals each land on the ideal spacing,
	// compounding stability to 2.5^3.
	for _, wait := range []time.Duration{3, 9, 27} {
		advance(wait * 24 * time.Hour)
		if _, err := eng.Reinforce(context.Background(), kept.ID, 0.2); err != nil {
			t.Fatalf("Reinforce: %v", err)
		}
	}
	m, err := eng.Get(kept.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	within(t, "stability", m.Stability, 15.625)

	// Forty days on, the untouched memory's half-life factors have decayed
	// it under the delete threshold while the reviewed one's
	// retrievability still clears 0.15.
	advance(40 * 24 * time.Hour)
	report, err := eng.Decay(context.Background(), false)
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if len(report.Archived)+len(report.Deleted) != 1 {
		t.Fatalf("report = %+v, want exactly the untouched memory out", report)
	}
	if _, err := eng.Get(kept.ID); err != nil {
		t.Errorf("reinforced memory was dropped: %v", err)
	}
	if _, err := eng.Get(lost.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("untouched memory survived: %v", err)
	}
}

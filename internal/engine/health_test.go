package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

func TestHealthReport(t *testing.T) {
	setClock(t, testEpoch)

	strong := testMemory("m-strong", "planner", "high importance and linked")
	strong.Importance = 0.9
	strong.Category = domain.CategoryDecision
	strong.Links = []domain.Link{{TargetID: "m-healthy", Similarity: 0.9, Type: domain.LinkRelated}}

	healthy := testMemory("m-healthy", "scout", "fresh average memory")
	healthy.Links = []domain.Link{{TargetID: "m-strong", Similarity: 0.9, Type: domain.LinkRelated}}

	weakening := testMemory("m-weakening", "planner", "a month untouched")
	weakening.CreatedAt = testEpoch.AddDate(0, 0, -30)
	weakening.UpdatedAt = weakening.CreatedAt

	critical := testMemory("m-critical", "planner", "two months untouched")
	critical.CreatedAt = testEpoch.AddDate(0, 0, -60)
	critical.UpdatedAt = critical.CreatedAt

	dead := testMemory("m-dead", "planner", "long superseded")
	dead.Status = domain.StatusSuperseded
	dead.CreatedAt = testEpoch.AddDate(0, 0, -150)
	dead.UpdatedAt = dead.CreatedAt

	reviewed := testMemory("m-reviewed", "planner", "carries review state")
	reviewed.Stability = 4

	archived := testMemory("m-archived", "planner", "already shelved")
	archived.Status = domain.StatusArchived

	store := &memStore{
		memories: []*domain.Memory{strong, healthy, weakening, critical, dead, reviewed},
		archive:  []*domain.Memory{archived},
	}
	eng := newSeededEngine(t, store, Config{})

	report := eng.Health()
	if report.Total != 6 {
		t.Errorf("total = %d, want 6", report.Total)
	}
	if report.ByStatus["active"] != 5 || report.ByStatus["superseded"] != 1 {
		t.Errorf("by status = %v", report.ByStatus)
	}
	if report.ByAgent["planner"] != 5 || report.ByAgent["scout"] != 1 {
		t.Errorf("by agent = %v", report.ByAgent)
	}
	if report.ByCategory["fact"] != 5 || report.ByCategory["decision"] != 1 {
		t.Errorf("by category = %v", report.ByCategory)
	}

	if report.Links != 2 {
		t.Errorf("links = %d, want one record per endpoint", report.Links)
	}
	if report.CrossAgentLinks != 2 {
		t.Errorf("cross-agent links = %d, want 2", report.CrossAgentLinks)
	}
	if report.Orphans != 4 {
		t.Errorf("orphans = %d, want 4", report.Orphans)
	}
	if report.Archive != 1 {
		t.Errorf("archive = %d, want 1", report.Archive)
	}

	want := StrengthDistribution{Strong: 1, Healthy: 2, Weakening: 1, Critical: 1, Dead: 1}
	if report.Strength != want {
		t.Errorf("strength = %+v, want %+v", report.Strength, want)
	}
	if report.AverageStrength <= 0 {
		t.Errorf("average strength = %v", report.AverageStrength)
	}

	within(t, "max age", report.MaxAgeDays, 150)
	within(t, "average age", report.AverageAgeDays, 40)
	if report.SM2Count != 1 {
		t.Errorf("sm2 count = %d, want 1", report.SM2Count)
	}
	within(t, "average stability", report.AverageStability, 4)
}

func TestHealthOnEmptyGraph(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})

	report := eng.Health()
	if report.Total != 0 || report.AverageStrength != 0 || report.AverageAgeDays != 0 {
		t.Errorf("empty report = %+v", report)
	}
}

func timelineSeeds() []*domain.Memory {
	today := testMemory("m-today", "planner", strings.Repeat("x", 120))

	earlier := testMemory("m-earlier-today", "scout", "logged this morning")
	earlier.CreatedAt = testEpoch.Add(-3 * time.Hour)

	yesterday := testMemory("m-yesterday", "planner", "from yesterday")
	yesterday.CreatedAt = testEpoch.AddDate(0, 0, -1)

	dated := testMemory("m-dated", "planner", "created today about an older event")
	twoDaysAgo := testEpoch.AddDate(0, 0, -2)
	dated.EventAt = &twoDaysAgo

	ancient := testMemory("m-ancient", "planner", "outside the window")
	ancient.CreatedAt = testEpoch.AddDate(0, 0, -10)

	return []*domain.Memory{today, earlier, yesterday, dated, ancient}
}

func TestTimelineGroupsByDay(t *testing.T) {
	setClock(t, testEpoch)
	store := &memStore{memories: timelineSeeds()}
	eng := newSeededEngine(t, store, Config{})

	days, err := eng.Timeline("", 7, TimeFieldAuto)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	wantDates := []string{"2025-05-30", "2025-05-31", "2025-06-01"}
	if len(days) != len(wantDates) {
		t.Fatalf("days = %d, want %d", len(days), len(wantDates))
	}
	for i, want := range wantDates {
		if days[i].Date != want {
			t.Errorf("days[%d] = %s, want %s", i, days[i].Date, want)
		}
	}

	// The event-dated memory groups by its event time under auto.
	if len(days[0].Entries) != 1 || days[0].Entries[0].ID != "m-dated" {
		t.Errorf("oldest day = %+v, want m-dated", days[0].Entries)
	}

	// Same-day entries come back oldest first regardless of list order.
	todayEntries := days[2].Entries
	if len(todayEntries) != 2 {
		t.Fatalf("today = %d entries, want 2", len(todayEntries))
	}
	if todayEntries[0].ID != "m-earlier-today" || todayEntries[1].ID != "m-today" {
		t.Errorf("today order = [%s %s]", todayEntries[0].ID, todayEntries[1].ID)
	}

	// Long texts get clipped for the projection.
	if got := todayEntries[1].Text; len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncated text = %q (len %d)", got, len(got))
	}
}

func TestTimelineFieldAndAgentFilters(t *testing.T) {
	setClock(t, testEpoch)
	store := &memStore{memories: timelineSeeds()}
	eng := newSeededEngine(t, store, Config{})

	days, err := eng.Timeline("planner", 7, TimeFieldAuto)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	for _, day := range days {
		for _, entry := range day.Entries {
			if entry.Agent != "planner" {
				t.Errorf("foreign agent %s leaked into %s", entry.Agent, day.Date)
			}
		}
	}

	// Event field keeps only memories carrying an event time.
	days, err = eng.Timeline("", 7, TimeFieldEvent)
	if err != nil {
		t.Fatalf("Timeline event: %v", err)
	}
	if len(days) != 1 || days[0].Date != "2025-05-30" {
		t.Fatalf("event days = %+v, want just 2025-05-30", days)
	}

	// Created field groups the same memory under its creation day instead.
	days, err = eng.Timeline("", 7, TimeFieldCreated)
	if err != nil {
		t.Fatalf("Timeline created: %v", err)
	}
	for _, day := range days {
		if day.Date == "2025-05-30" {
			t.Error("event-dated memory still grouped by event time under created")
		}
	}

	if _, err := eng.Timeline("", 7, TimeField("fuzzy")); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("bad field err = %v, want invalid", err)
	}

	// Zero days falls back to a week.
	days, err = eng.Timeline("", 0, TimeFieldAuto)
	if err != nil {
		t.Fatalf("Timeline default: %v", err)
	}
	for _, day := range days {
		for _, entry := range day.Entries {
			if entry.ID == "m-ancient" {
				t.Error("ten-day-old memory inside the default week window")
			}
		}
	}
}

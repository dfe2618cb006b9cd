package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/embedding"
	"github.com/Harshitk-cp/synapse/internal/llm"
)

func episodeSeeds() []*domain.Memory {
	m1 := testMemory("m-1", "planner", "kickoff scheduled the rollout")
	m2 := testMemory("m-2", "planner", "rollout hit a config regression")
	eventAt := testEpoch.AddDate(0, 0, -3)
	m2.EventAt = &eventAt
	m3 := testMemory("m-3", "scout", "regression traced to stale cache")
	return []*domain.Memory{m1, m2, m3}
}

func TestCreateEpisodeDerivesAgentsAndRange(t *testing.T) {
	setClock(t, testEpoch)
	store := &memStore{memories: episodeSeeds()}
	eng := newSeededEngine(t, store, Config{})
	ctx := context.Background()

	var created int
	eng.On(domain.EventEpisodeCreate, func(domain.Event) { created++ })

	ep, err := eng.CreateEpisode(ctx, "rollout incident", []string{"m-1", "m-2", "m-2", "m-3"}, []string{"incident", "", "q2"})
	if err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}
	if ep.ID != "ep-1" {
		t.Errorf("id = %s, want ep-1", ep.ID)
	}
	if len(ep.MemoryIDs) != 3 {
		t.Errorf("members = %v, want duplicates folded", ep.MemoryIDs)
	}
	if len(ep.Agents) != 2 || ep.Agents[0] != "planner" || ep.Agents[1] != "scout" {
		t.Errorf("agents = %v, want sorted [planner scout]", ep.Agents)
	}
	if !ep.TimeRange.Start.Equal(testEpoch.AddDate(0, 0, -3)) {
		t.Errorf("range start = %v, want the event time", ep.TimeRange.Start)
	}
	if !ep.TimeRange.End.Equal(testEpoch) {
		t.Errorf("range end = %v, want the newest creation", ep.TimeRange.End)
	}
	if len(ep.Tags) != 2 {
		t.Errorf("tags = %v, want empty entries dropped", ep.Tags)
	}
	if created != 1 {
		t.Errorf("create events = %d, want 1", created)
	}

	// Returned episodes are detached copies.
	ep.MemoryIDs[0] = "mutated"
	again, err := eng.GetEpisode("ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if again.MemoryIDs[0] != "m-1" {
		t.Error("episode clone aliases engine state")
	}
}

func TestCreateEpisodeValidation(t *testing.T) {
	store := &memStore{memories: episodeSeeds()}
	eng := newSeededEngine(t, store, Config{})
	ctx := context.Background()

	if _, err := eng.CreateEpisode(ctx, "  ", []string{"m-1"}, nil); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("blank name err = %v, want invalid", err)
	}
	if _, err := eng.CreateEpisode(ctx, "empty", nil, nil); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("no members err = %v, want invalid", err)
	}
	if _, err := eng.CreateEpisode(ctx, "ghost", []string{"m-404"}, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown member err = %v, want not found", err)
	}
	if _, err := eng.GetEpisode("ep-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown episode err = %v, want not found", err)
	}
}

func TestCaptureEpisodeByWindow(t *testing.T) {
	setClock(t, testEpoch)
	inWindow := testEpoch.AddDate(0, 0, -1)
	atEdge := testEpoch.AddDate(0, 0, -2)
	tooOld := testEpoch.AddDate(0, 0, -10)

	m1 := testMemory("m-1", "planner", "created inside the window")
	m2 := testMemory("m-2", "planner", "event time inside the window")
	m2.EventAt = &inWindow
	m3 := testMemory("m-3", "planner", "event time on the window edge")
	m3.EventAt = &atEdge
	m4 := testMemory("m-4", "planner", "far too old")
	m4.EventAt = &tooOld
	m5 := testMemory("m-5", "scout", "someone else entirely")

	store := &memStore{memories: []*domain.Memory{m1, m2, m3, m4, m5}}
	eng := newSeededEngine(t, store, Config{})
	ctx := context.Background()

	start := testEpoch.AddDate(0, 0, -2)
	ep, err := eng.CaptureEpisode(ctx, "planner", start, testEpoch, "", 2)
	if err != nil {
		t.Fatalf("CaptureEpisode: %v", err)
	}
	if len(ep.MemoryIDs) != 3 {
		t.Errorf("members = %v, want the three windowed planner memories", ep.MemoryIDs)
	}
	if ep.Name != "planner 2025-05-30 to 2025-06-01" {
		t.Errorf("default name = %q", ep.Name)
	}

	if _, err := eng.CaptureEpisode(ctx, "planner", start, testEpoch, "", 10); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("sparse window err = %v, want invalid", err)
	}
	if _, err := eng.CaptureEpisode(ctx, "planner", testEpoch, start, "", 1); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("inverted window err = %v, want invalid", err)
	}
	if _, err := eng.CaptureEpisode(ctx, "bad agent!", start, testEpoch, "", 1); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("bad agent err = %v, want invalid", err)
	}
}

func TestEpisodeMembership(t *testing.T) {
	advance := setClock(t, testEpoch)
	store := &memStore{memories: episodeSeeds()}
	eng := newSeededEngine(t, store, Config{})
	ctx := context.Background()

	ep, err := eng.CreateEpisode(ctx, "triage", []string{"m-1"}, nil)
	if err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}

	advance(time.Hour)
	ep, err = eng.AddToEpisode(ctx, ep.ID, []string{"m-2", "m-1", "m-3"})
	if err != nil {
		t.Fatalf("AddToEpisode: %v", err)
	}
	if len(ep.MemoryIDs) != 3 {
		t.Errorf("members = %v, want 3 with the duplicate skipped", ep.MemoryIDs)
	}
	if len(ep.Agents) != 2 {
		t.Errorf("agents = %v, want planner and scout", ep.Agents)
	}
	wantUpdated := testEpoch.Add(time.Hour)
	if !ep.UpdatedAt.Equal(wantUpdated) {
		t.Errorf("updated at = %v, want %v", ep.UpdatedAt, wantUpdated)
	}

	// Adding only members it already holds is a no-op.
	advance(time.Hour)
	ep, err = eng.AddToEpisode(ctx, ep.ID, []string{"m-1"})
	if err != nil {
		t.Fatalf("AddToEpisode no-op: %v", err)
	}
	if !ep.UpdatedAt.Equal(wantUpdated) {
		t.Error("no-op add still stamped the episode")
	}
	if _, err := eng.AddToEpisode(ctx, ep.ID, []string{"m-404"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown member err = %v, want not found", err)
	}

	ep, err = eng.RemoveFromEpisode(ctx, ep.ID, []string{"m-3", "m-404"})
	if err != nil {
		t.Fatalf("RemoveFromEpisode: %v", err)
	}
	if len(ep.MemoryIDs) != 2 {
		t.Errorf("members after remove = %v, want 2", ep.MemoryIDs)
	}
	if len(ep.Agents) != 1 || ep.Agents[0] != "planner" {
		t.Errorf("agents after remove = %v, want [planner]", ep.Agents)
	}
	if _, err := eng.RemoveFromEpisode(ctx, "ep-404", []string{"m-1"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown episode err = %v, want not found", err)
	}
}

func TestSearchEpisodeSubstring(t *testing.T) {
	m1 := testMemory("m-1", "planner", "ingress terminates TLS for the cluster")
	m2 := testMemory("m-2", "planner", "database runs postgres")
	store := &memStore{memories: []*domain.Memory{m1, m2}}
	eng := newSeededEngine(t, store, Config{})
	ctx := context.Background()

	ep, err := eng.CreateEpisode(ctx, "networking", []string{"m-1", "m-2"}, nil)
	if err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}

	results, err := eng.SearchEpisode(ctx, ep.ID, "tls", 10)
	if err != nil {
		t.Fatalf("SearchEpisode: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != "m-1" || results[0].Score != 1 {
		t.Errorf("results = %+v, want the tls memory at score 1", results)
	}

	if _, err := eng.SearchEpisode(ctx, ep.ID, "  ", 10); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("blank query err = %v, want invalid", err)
	}
	if _, err := eng.SearchEpisode(ctx, "ep-404", "tls", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown episode err = %v, want not found", err)
	}
}

func TestSearchEpisodeRanksByVector(t *testing.T) {
	m1 := testMemory("m-1", "planner", "redis caches session tokens")
	m1.Embedding = []float32{1, 0, 0}
	m2 := testMemory("m-2", "planner", "postgres stores relational data")
	m2.Embedding = []float32{0, 1, 0}
	m3 := testMemory("m-3", "planner", "measure cache lookup speed weekly")

	store := &memStore{memories: []*domain.Memory{m1, m2, m3}}
	emb := embedding.NewMockClient()
	emb.Vectors = map[string][]float32{
		"cache lookup speed": {0.9, 0.1, 0},
	}
	eng := New(store, emb, nil, zap.NewNop(), Config{})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()

	ep, err := eng.CreateEpisode(ctx, "performance", []string{"m-1", "m-2", "m-3"}, nil)
	if err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}

	results, err := eng.SearchEpisode(ctx, ep.ID, "cache lookup speed", 10)
	if err != nil {
		t.Fatalf("SearchEpisode: %v", err)
	}
	// The unembedded member matched by substring at score 1 outranks the
	// cosine hits.
	wantIDs := []string{"m-3", "m-1", "m-2"}
	if len(results) != len(wantIDs) {
		t.Fatalf("results = %d, want %d", len(results), len(wantIDs))
	}
	for i, want := range wantIDs {
		if results[i].Memory.ID != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Memory.ID, want)
		}
	}
	if results[0].Score != 1 {
		t.Errorf("substring score = %v, want 1", results[0].Score)
	}
	if results[1].Score <= results[2].Score {
		t.Errorf("cosine order broken: %v then %v", results[1].Score, results[2].Score)
	}

	limited, err := eng.SearchEpisode(ctx, ep.ID, "cache lookup speed", 2)
	if err != nil {
		t.Fatalf("SearchEpisode limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited results = %d, want 2", len(limited))
	}
}

func TestSummarizeEpisode(t *testing.T) {
	store := &memStore{memories: episodeSeeds()}
	chat := &llm.MockClient{Response: "  Rollout broke on a config regression traced to stale cache.  "}
	eng := New(store, nil, chat, zap.NewNop(), Config{})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()

	ep, err := eng.CreateEpisode(ctx, "rollout incident", []string{"m-1", "m-2", "m-3"}, nil)
	if err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}

	var summarized int
	eng.On(domain.EventEpisodeSummarize, func(domain.Event) { summarized++ })

	got, err := eng.SummarizeEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("SummarizeEpisode: %v", err)
	}
	if got.Summary != "Rollout broke on a config regression traced to stale cache." {
		t.Errorf("summary = %q, want the trimmed chat answer", got.Summary)
	}
	if len(chat.Calls) != 1 {
		t.Errorf("chat calls = %d, want 1", len(chat.Calls))
	}
	if summarized != 1 {
		t.Errorf("summarize events = %d, want 1", summarized)
	}

	bare := newSeededEngine(t, &memStore{memories: episodeSeeds()}, Config{})
	if _, err := bare.CreateEpisode(ctx, "no adapter", []string{"m-1"}, nil); err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}
	if _, err := bare.SummarizeEpisode(ctx, "ep-1"); !errors.Is(err, domain.ErrAdapterMissing) {
		t.Errorf("nil chat err = %v, want adapter missing", err)
	}
}

func TestListAndDeleteEpisodes(t *testing.T) {
	store := &memStore{memories: episodeSeeds()}
	eng := newSeededEngine(t, store, Config{})
	ctx := context.Background()

	if _, err := eng.CreateEpisode(ctx, "planner only", []string{"m-1"}, []string{"retro"}); err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}
	if _, err := eng.CreateEpisode(ctx, "scout only", []string{"m-3"}, nil); err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}
	if _, err := eng.CreateEpisode(ctx, "joint", []string{"m-1", "m-3"}, []string{"retro"}); err != nil {
		t.Fatalf("CreateEpisode: %v", err)
	}

	if all := eng.ListEpisodes(EpisodeFilter{}); len(all) != 3 {
		t.Errorf("episodes = %d, want 3", len(all))
	}
	byAgent := eng.ListEpisodes(EpisodeFilter{Agent: "scout"})
	if len(byAgent) != 2 {
		t.Errorf("scout episodes = %d, want 2", len(byAgent))
	}
	byTag := eng.ListEpisodes(EpisodeFilter{Tag: "retro"})
	if len(byTag) != 2 {
		t.Errorf("retro episodes = %d, want 2", len(byTag))
	}
	if limited := eng.ListEpisodes(EpisodeFilter{Limit: 1}); len(limited) != 1 || limited[0].ID != "ep-1" {
		t.Errorf("limited = %+v, want just ep-1", limited)
	}

	if err := eng.DeleteEpisode(ctx, "ep-2"); err != nil {
		t.Fatalf("DeleteEpisode: %v", err)
	}
	if err := eng.DeleteEpisode(ctx, "ep-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double delete err = %v, want not found", err)
	}
	if all := eng.ListEpisodes(EpisodeFilter{}); len(all) != 2 {
		t.Errorf("episodes after delete = %d, want 2", len(all))
	}
	// Deleting an episode never touches its members.
	if _, err := eng.Get("m-3"); err != nil {
		t.Errorf("member vanished with the episode: %v", err)
	}
}

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

// newEvolveEngine wires embedder and chat with the rate limit effectively
// off, since the limiter runs on the wall clock.
func newEvolveEngine(t *testing.T, vectors map[string][]float32, chat *llm.MockClient) (*Engine, *memStore) {
	t.Helper()
	store := &memStore{}
	emb := embedding.NewMockClient()
	emb.Vectors = vectors
	eng := New(store, emb, chat, zap.NewNop(), Config{EvolveMinInterval: time.Nanosecond})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return eng, store
}

func TestEvolveStoresWithoutAdapters(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{EvolveMinInterval: time.Nanosecond})

	res, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner", Text: "first note"})
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if res.Action != "stored" || res.ID != "mem-1" {
		t.Errorf("result = %+v, want stored mem-1", res)
	}
	if res.DetectionError != "" || len(res.Archived) != 0 {
		t.Errorf("result = %+v, want clean plain store", res)
	}

	if _, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner"}); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("empty text err = %v, want invalid", err)
	}
}

func TestEvolveArchivesContradicted(t *testing.T) {
	chat := &llm.MockClient{Responses: []string{`{"conflicts": [0], "updates": [], "novel": true}`}}
	eng, store := newEvolveEngine(t, map[string][]float32{
		"user prefers light theme": {1, 0, 0},
		"user prefers dark theme":  {0.8, 0.6, 0},
	}, chat)

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "user prefers light theme"})
	if len(chat.Calls) != 0 {
		t.Fatalf("plain store consulted the chat adapter")
	}

	res, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner", Text: "user prefers dark theme"})
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if res.Action != "stored" || res.ID != "mem-2" {
		t.Errorf("result = %+v, want stored mem-2", res)
	}
	if len(res.Archived) != 1 || res.Archived[0] != "mem-1" {
		t.Fatalf("archived = %v, want [mem-1]", res.Archived)
	}

	if _, err := eng.Get("mem-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("contradicted memory still live: %v", err)
	}
	if len(store.archive) != 1 || store.archive[0].ArchivedReason != "contradicted by newer memory" {
		t.Errorf("archive = %+v", store.archive)
	}

	stored, err := eng.Get("mem-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !hasLink(stored, "mem-1", domain.LinkSupersedes) {
		t.Error("stored memory missing supersedes link to the archived one")
	}
	if len(stored.Supersedes) != 1 || stored.Supersedes[0] != "mem-1" {
		t.Errorf("supersedes = %v, want [mem-1]", stored.Supersedes)
	}
}

func TestEvolveUpdatesInPlace(t *testing.T) {
	chat := &llm.MockClient{Responses: []string{`{"conflicts": [], "updates": [0], "novel": false}`}}
	eng, _ := newEvolveEngine(t, map[string][]float32{
		"user timezone is EST": {1, 0, 0},
		"user timezone is PST": {0.9, 0.1, 0},
	}, chat)

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "user timezone is EST", Importance: 0.4})

	res, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner", Text: "user timezone is PST", Importance: 0.7})
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if res.Action != "updated" || res.ID != "mem-1" {
		t.Fatalf("result = %+v, want updated mem-1", res)
	}
	if eng.Count() != 1 {
		t.Errorf("Count = %d, want the single rewritten memory", eng.Count())
	}

	m, err := eng.Get("mem-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Text != "user timezone is PST" {
		t.Errorf("text = %q", m.Text)
	}
	if m.Importance != 0.7 {
		t.Errorf("importance = %v, want raised to 0.7", m.Importance)
	}
	if len(m.Evolution) != 1 {
		t.Fatalf("evolution entries = %d, want 1", len(m.Evolution))
	}
	ev := m.Evolution[0]
	if ev.From != "user timezone is EST" || ev.To != "user timezone is PST" {
		t.Errorf("evolution = %+v", ev)
	}
	if len(m.Embedding) != 3 || m.Embedding[0] != 0.9 {
		t.Errorf("embedding = %v, want the new text's vector", m.Embedding)
	}
}

func TestEvolveKeepsLowerImportanceOnUpdate(t *testing.T) {
	chat := &llm.MockClient{Responses: []string{`{"conflicts": [], "updates": [0]}`}}
	eng, _ := newEvolveEngine(t, map[string][]float32{
		"user timezone is EST": {1, 0, 0},
		"user timezone is PST": {0.9, 0.1, 0},
	}, chat)

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "user timezone is EST", Importance: 0.8})
	if _, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner", Text: "user timezone is PST", Importance: 0.3}); err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	m, _ := eng.Get("mem-1")
	if m.Importance != 0.8 {
		t.Errorf("importance = %v, want the original 0.8 kept", m.Importance)
	}
}

func TestEvolveFallsBackWhenClassificationFails(t *testing.T) {
	chat := &llm.MockClient{Err: errors.New("model offline")}
	eng, store := newEvolveEngine(t, map[string][]float32{
		"user prefers light theme": {1, 0, 0},
		"user prefers dark theme":  {0.8, 0.6, 0},
	}, chat)

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "user prefers light theme"})

	res, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner", Text: "user prefers dark theme"})
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if res.Action != "stored" {
		t.Errorf("action = %q, want stored", res.Action)
	}
	if res.DetectionError == "" {
		t.Error("detection error not reported")
	}
	if len(res.Archived) != 0 || len(store.archive) != 0 {
		t.Errorf("fallback archived memories: %v", res.Archived)
	}

	// Both memories stay live, and the regular pipeline still auto-links
	// the similar pair.
	if _, err := eng.Get("mem-1"); err != nil {
		t.Errorf("existing memory lost: %v", err)
	}
	if res.Links != 1 {
		t.Errorf("links = %d, want the similarity edge", res.Links)
	}
}

func TestEvolveIgnoresOtherAgentsAndWeakMatches(t *testing.T) {
	chat := &llm.MockClient{Responses: []string{`{"conflicts": [0], "updates": []}`}}
	eng, _ := newEvolveEngine(t, map[string][]float32{
		"scout saw the light theme": {1, 0, 0},
		"unrelated build note":      {0, 1, 0},
		"user prefers dark theme":   {0.8, 0.6, 0},
	}, chat)

	// Same vector, different agent; similar-agent memory far below the
	// candidate floor. Neither may reach the classifier.
	mustStore(t, eng, StoreRequest{Agent: "scout", Text: "scout saw the light theme"})
	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "unrelated build note"})

	res, err := eng.Evolve(context.Background(), StoreRequest{Agent: "planner", Text: "user prefers dark theme"})
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if len(chat.Calls) != 0 {
		t.Errorf("classifier ran with no candidates: %d calls", len(chat.Calls))
	}
	if res.Action != "stored" || len(res.Archived) != 0 {
		t.Errorf("result = %+v, want plain store", res)
	}
}

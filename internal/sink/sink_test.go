package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[domain.EventName][]domain.EventHandler
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[domain.EventName][]domain.EventHandler)}
}

func (f *fakeSubscriber) On(name domain.EventName, fn domain.EventHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], fn)
	idx := len(f.handlers[name]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[name][idx] = nil
	}
}

func (f *fakeSubscriber) emit(ev domain.Event) {
	f.mu.Lock()
	handlers := append([]domain.EventHandler(nil), f.handlers[ev.Name]...)
	f.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

func storeEvent(id, agent, text string) domain.Event {
	return domain.Event{
		Name:     domain.EventStore,
		At:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		MemoryID: id,
		Agent:    agent,
		Detail:   map[string]any{"text": text},
	}
}

func TestMarkdownAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.md")
	s := NewMarkdown(path, zap.NewNop())
	sub := newFakeSubscriber()
	s.Attach(sub)

	sub.emit(storeEvent("mem-1", "agent-a", "first"))
	sub.emit(storeEvent("mem-2", "agent-a", "second"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Memory log\n") {
		t.Fatalf("missing header, got %q", content)
	}
	if strings.Count(content, "# Memory log") != 1 {
		t.Fatalf("header repeated:\n%s", content)
	}
	if !strings.Contains(content, "mem-1") || !strings.Contains(content, "mem-2") {
		t.Fatalf("missing entries:\n%s", content)
	}
	if !strings.Contains(content, "**store**") {
		t.Fatalf("missing event marker:\n%s", content)
	}
}

func TestMarkdownIgnoresUnrenderedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.md")
	s := NewMarkdown(path, zap.NewNop())
	sub := newFakeSubscriber()
	s.Attach(sub)

	sub.emit(domain.Event{Name: domain.EventSearch, Agent: "agent-a"})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("search event should not create the log, stat err=%v", err)
	}
}

func TestMarkdownUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.md")
	s := NewMarkdown(path, zap.NewNop())
	sub := newFakeSubscriber()
	off := s.Attach(sub)

	sub.emit(storeEvent("mem-1", "agent-a", "kept"))
	off()
	sub.emit(storeEvent("mem-2", "agent-a", "ignored"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "mem-2") {
		t.Fatalf("event after unsubscribe was written:\n%s", data)
	}
}

func TestWebhookFlushPostsBatches(t *testing.T) {
	var mu sync.Mutex
	var batches [][]domain.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Events []domain.Event `json:"events"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		mu.Lock()
		batches = append(batches, payload.Events)
		mu.Unlock()
	}))
	defer srv.Close()

	s := NewWebhook(srv.URL, zap.NewNop())
	sub := newFakeSubscriber()
	s.Attach(sub)

	total := webhookBatchSize*2 + 20
	for i := 0; i < total; i++ {
		sub.emit(storeEvent("mem", "agent-a", "text"))
	}
	if got := s.Pending(); got != total {
		t.Fatalf("Pending() = %d, want %d", got, total)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := s.Pending(); got != 0 {
		t.Fatalf("Pending() after flush = %d, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	received := 0
	for _, b := range batches {
		if len(b) > webhookBatchSize {
			t.Fatalf("batch of %d exceeds %d", len(b), webhookBatchSize)
		}
		received += len(b)
	}
	if received != total {
		t.Fatalf("received %d events, want %d", received, total)
	}
}

func TestWebhookFlushEmptyBuffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty buffer")
	}))
	defer srv.Close()

	s := NewWebhook(srv.URL, zap.NewNop())
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestWebhookFlushReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhook(srv.URL, zap.NewNop())
	sub := newFakeSubscriber()
	s.Attach(sub)
	sub.emit(storeEvent("mem", "agent-a", "text"))

	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("Flush should surface the failed batch")
	}
	if got := s.Pending(); got != 0 {
		t.Fatalf("failed events should be dropped, Pending() = %d", got)
	}
}

func TestWebhookDropsOldestWhenFull(t *testing.T) {
	s := NewWebhook("http://127.0.0.1:0", zap.NewNop())
	sub := newFakeSubscriber()
	s.Attach(sub)

	for i := 0; i < webhookMaxBuffer+5; i++ {
		sub.emit(storeEvent("mem", "agent-a", "text"))
	}
	if got := s.Pending(); got != webhookMaxBuffer {
		t.Fatalf("Pending() = %d, want %d", got, webhookMaxBuffer)
	}
}

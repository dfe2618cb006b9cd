package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const (
	webhookMaxBuffer = 1024
	webhookBatchSize = 50
	webhookFanOut    = 4
)

// Webhook buffers engine events and posts them to an HTTP endpoint as JSON
// batches when Flush is called. Buffering keeps the engine's synchronous
// listener path free of network I/O; when the buffer is full the oldest
// events are dropped.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	buf     []domain.Event
	dropped int
}

func NewWebhook(url string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Attach subscribes the sink to every engine event and returns an
// unsubscribe function.
func (s *Webhook) Attach(sub Subscriber) func() {
	return subscribe(sub, AllEvents, s.handle)
}

func (s *Webhook) handle(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) >= webhookMaxBuffer {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, ev)
}

// Pending returns the number of buffered events.
func (s *Webhook) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

type webhookPayload struct {
	Events []domain.Event `json:"events"`
}

// Flush drains the buffer and posts it in batches with a bounded fan-out.
// Events in failed batches are dropped, not retried; the error of the first
// failed batch is returned so callers can notice.
func (s *Webhook) Flush(ctx context.Context) error {
	s.mu.Lock()
	events := s.buf
	dropped := s.dropped
	s.buf = nil
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("webhook sink dropped events", zap.Int("dropped", dropped))
	}
	if len(events) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(webhookFanOut)
	for start := 0; start < len(events); start += webhookBatchSize {
		end := start + webhookBatchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]
		g.Go(func() error {
			if err := s.post(ctx, batch); err != nil {
				s.logger.Warn("webhook sink post failed",
					zap.Int("events", len(batch)), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Webhook) post(ctx context.Context, batch []domain.Event) error {
	body, err := json.Marshal(webhookPayload{Events: batch})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

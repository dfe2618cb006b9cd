package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// markdownEvents are the lifecycle changes worth a line in the log; noisy
// events like search are left out.
var markdownEvents = []domain.EventName{
	domain.EventStore,
	domain.EventSupersede,
	domain.EventDecay,
	domain.EventCompress,
	domain.EventConflictPending,
	domain.EventConflictResolved,
}

// Markdown mirrors engine events into an append-only human-readable log.
// Each event is a single O_APPEND write, so concurrent processes sharing the
// file cannot interleave partial lines.
type Markdown struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func NewMarkdown(path string, logger *zap.Logger) *Markdown {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Markdown{path: path, logger: logger}
}

// Attach subscribes the sink and returns an unsubscribe function.
func (s *Markdown) Attach(sub Subscriber) func() {
	return subscribe(sub, markdownEvents, s.handle)
}

func (s *Markdown) handle(ev domain.Event) {
	line := markdownLine(ev)
	if line == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("markdown sink open failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		line = "# Memory log\n\n" + line
	}
	if _, err := io.WriteString(f, line); err != nil {
		s.logger.Warn("markdown sink write failed", zap.String("path", s.path), zap.Error(err))
	}
}

func markdownLine(ev domain.Event) string {
	ts := ev.At.UTC().Format(time.RFC3339)
	switch ev.Name {
	case domain.EventStore:
		text, _ := ev.Detail["text"].(string)
		return fmt.Sprintf("- `%s` **store** %s (%s): %s\n", ts, ev.MemoryID, ev.Agent, text)
	case domain.EventSupersede:
		return fmt.Sprintf("- `%s` **supersede** %s replaced by %v\n", ts, ev.MemoryID, ev.Detail["superseded_by"])
	case domain.EventDecay:
		return fmt.Sprintf("- `%s` **decay** archived=%v deleted=%v weakening=%v\n",
			ts, ev.Detail["archived"], ev.Detail["deleted"], ev.Detail["weakening"])
	case domain.EventCompress:
		return fmt.Sprintf("- `%s` **compress** digest %s from %v sources\n", ts, ev.MemoryID, ev.Detail["sources"])
	case domain.EventConflictPending:
		return fmt.Sprintf("- `%s` **conflict** %s vs %v on %v/%v\n",
			ts, ev.MemoryID, ev.Detail["existing_id"], ev.Detail["subject"], ev.Detail["predicate"])
	case domain.EventConflictResolved:
		return fmt.Sprintf("- `%s` **resolved** conflict %v as %v\n", ts, ev.Detail["conflict_id"], ev.Detail["resolution"])
	}
	return ""
}

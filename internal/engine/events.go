package engine

import (
	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

type listener struct {
	id int
	fn domain.EventHandler
}

// On registers a listener for an event name and returns an unsubscribe
// function. Listeners run synchronously in registration order; panics are
// trapped so observers cannot break engine state.
func (e *Engine) On(name domain.EventName, fn domain.EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listenerID++
	id := e.listenerID
	e.listeners[name] = append(e.listeners[name], listener{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		entries := e.listeners[name]
		for i, entry := range entries {
			if entry.id == id {
				e.listeners[name] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// emit dispatches an event to its listeners. Callers hold the engine mutex;
// listeners observe the post-mutation state.
func (e *Engine) emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = timeNow().UTC()
	}
	for _, entry := range e.listeners[ev.Name] {
		e.invoke(entry, ev)
	}
}

func (e *Engine) invoke(entry listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event listener panicked",
				zap.String("event", string(ev.Name)),
				zap.Any("panic", r))
		}
	}()
	entry.fn(ev)
}

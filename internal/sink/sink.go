// Package sink holds write-through observers: small subscribers that mirror
// engine events somewhere else. Sinks never feed back into the engine; their
// failures are logged and swallowed.
package sink

import "github.com/Harshitk-cp/synapse/internal/domain"

// Subscriber is the slice of the engine a sink needs: event registration
// returning an unsubscribe function.
type Subscriber interface {
	On(name domain.EventName, fn domain.EventHandler) func()
}

// AllEvents lists every event name the engine emits.
var AllEvents = []domain.EventName{
	domain.EventStore,
	domain.EventSearch,
	domain.EventDecay,
	domain.EventLink,
	domain.EventDispute,
	domain.EventCorroborate,
	domain.EventSupersede,
	domain.EventConflictPending,
	domain.EventConflictResolved,
	domain.EventEpisodeCreate,
	domain.EventEpisodeUpdate,
	domain.EventEpisodeDelete,
	domain.EventEpisodeSummarize,
	domain.EventClusterCreate,
	domain.EventClusterDelete,
	domain.EventCompress,
	domain.EventConsolidate,
}

func subscribe(sub Subscriber, names []domain.EventName, fn domain.EventHandler) func() {
	offs := make([]func(), 0, len(names))
	for _, name := range names {
		offs = append(offs, sub.On(name, fn))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

package domain

import "time"

// EventName identifies an engine lifecycle event.
type EventName string

const (
	EventStore            EventName = "store"
	EventSearch           EventName = "search"
	EventDecay            EventName = "decay"
	EventLink             EventName = "link"
	EventDispute          EventName = "dispute"
	EventCorroborate      EventName = "corroborate"
	EventSupersede        EventName = "supersede"
	EventConflictPending  EventName = "conflict:pending"
	EventConflictResolved EventName = "conflict:resolved"
	EventEpisodeCreate    EventName = "episode:create"
	EventEpisodeUpdate    EventName = "episode:update"
	EventEpisodeDelete    EventName = "episode:delete"
	EventEpisodeSummarize EventName = "episode:summarize"
	EventClusterCreate    EventName = "cluster:create"
	EventClusterDelete    EventName = "cluster:delete"
	EventCompress         EventName = "compress"
	EventConsolidate      EventName = "consolidate"
)

// Event is the payload delivered to subscribers. Emission is synchronous and
// ordered; handlers run inside the operation that produced the event.
type Event struct {
	Name     EventName      `json:"name"`
	At       time.Time      `json:"at"`
	MemoryID string         `json:"memory_id,omitempty"`
	Agent    string         `json:"agent,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// EventHandler consumes engine events. Panics inside a handler are swallowed
// so one misbehaving subscriber cannot abort a store.
type EventHandler func(Event)

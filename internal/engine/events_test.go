package engine

import (
	"testing"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

func TestOnDeliversSynchronously(t *testing.T) {
	setClock(t, testEpoch)
	eng, _ := newKeywordEngine(t, Config{})

	var got []domain.Event
	eng.On(domain.EventStore, func(ev domain.Event) { got = append(got, ev) })

	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "emit on store"})
	if len(got) != 1 {
		t.Fatalf("events = %d, want delivery before Store returns", len(got))
	}
	ev := got[0]
	if ev.Name != domain.EventStore || ev.MemoryID != res.ID || ev.Agent != "planner" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.At.Equal(testEpoch) {
		t.Errorf("event time = %v, want stamped with the engine clock", ev.At)
	}
}

func TestOnFiltersByEventName(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})

	var decays int
	eng.On(domain.EventDecay, func(domain.Event) { decays++ })

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "stores are not decays"})
	if decays != 0 {
		t.Errorf("decay listener fired %d times on a store", decays)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})

	var seen int
	off := eng.On(domain.EventStore, func(domain.Event) { seen++ })

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "first"})
	off()
	// Unsubscribing twice is harmless.
	off()
	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "second"})

	if seen != 1 {
		t.Errorf("deliveries = %d, want 1", seen)
	}
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})

	var order []string
	eng.On(domain.EventStore, func(domain.Event) { order = append(order, "first") })
	eng.On(domain.EventStore, func(domain.Event) { order = append(order, "second") })

	mustStore(t, eng, StoreRequest{Agent: "planner", Text: "ordered fan-out"})
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v", order)
	}
}

func TestListenerPanicIsIsolated(t *testing.T) {
	eng, _ := newKeywordEngine(t, Config{})

	var after int
	eng.On(domain.EventStore, func(domain.Event) { panic("listener bug") })
	eng.On(domain.EventStore, func(domain.Event) { after++ })

	res := mustStore(t, eng, StoreRequest{Agent: "planner", Text: "survives a bad observer"})
	if after != 1 {
		t.Errorf("second listener deliveries = %d, want 1", after)
	}
	// The store itself completed despite the panic.
	if _, err := eng.Get(res.ID); err != nil {
		t.Errorf("memory missing after listener panic: %v", err)
	}
}

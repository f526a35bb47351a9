package universe

import (
	"sync"
	"testing"
	"time"

	"yellorn/internal/protocol"
)

func TestBusTopicFilter(t *testing.T) {
	bus := NewBus(8)
	var mu sync.Mutex
	var updates, all int
	bus.Subscribe(func(Notification) { mu.Lock(); updates++; mu.Unlock() }, TopicUniverseUpdate)
	bus.Subscribe(func(Notification) { mu.Lock(); all++; mu.Unlock() })
	bus.Start()

	bus.Publish(Notification{Topic: TopicAgentAdded})
	bus.Publish(Notification{Topic: TopicUniverseUpdate, State: &protocol.UniverseState{}})
	bus.Stop() // drains the queue

	mu.Lock()
	defer mu.Unlock()
	if updates != 1 || all != 2 {
		t.Errorf("expected updates=1 all=2, got %d/%d", updates, all)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	if !bus.Publish(Notification{Topic: TopicAgentAdded}) {
		t.Fatal("first publish should fit")
	}
	if bus.Publish(Notification{Topic: TopicAgentAdded}) {
		t.Fatal("second publish should be dropped")
	}
	published, dropped := bus.Stats()
	if published != 1 || dropped != 1 {
		t.Errorf("expected 1/1, got %d/%d", published, dropped)
	}
	bus.Stop()
}

func TestBusSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewBus(8)
	got := make(chan struct{}, 1)
	bus.Subscribe(func(Notification) { panic("bad subscriber") })
	bus.Subscribe(func(Notification) { got <- struct{}{} })
	bus.Start()
	defer bus.Stop()

	bus.Publish(Notification{Topic: TopicEngineStarted})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second subscriber never called")
	}
}

func TestRecentEventsRing(t *testing.T) {
	r := newRecentEvents(3)
	if got := r.list(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", got)
	}
	for i := uint64(1); i <= 5; i++ {
		r.add(protocol.EventRecord{Tick: i})
	}
	got := r.list()
	if len(got) != 3 || got[0].Tick != 3 || got[2].Tick != 5 {
		t.Errorf("expected ticks 3..5 oldest first, got %+v", got)
	}

	off := newRecentEvents(0)
	off.add(protocol.EventRecord{Tick: 1})
	if len(off.list()) != 0 {
		t.Error("zero-length ring should record nothing")
	}
}

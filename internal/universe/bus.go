package universe

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"yellorn/internal/observability"
	"yellorn/internal/protocol"
)

// Topic names a class of engine notification.
type Topic string

const (
	TopicAgentAdded     Topic = "agent:added"
	TopicAgentRemoved   Topic = "agent:removed"
	TopicAgentMoved     Topic = "agent:moved"
	TopicUniverseUpdate Topic = "universe:update"
	TopicEngineStarted  Topic = "engine:started"
	TopicEngineStopped  Topic = "engine:stopped"
)

// DefaultBusSize is the notification queue length used when none is given.
const DefaultBusSize = 1024

// Notification is one engine event. Agent is set for agent topics, State for
// universe:update. Both are copies owned by the receiver.
type Notification struct {
	Topic     Topic
	Tick      uint64
	Timestamp time.Time
	AgentID   string
	Agent     *protocol.AgentState
	State     *protocol.UniverseState
}

// Handler receives notifications on the bus consumer goroutine. Handlers must
// not block; slow work belongs on the handler's own queue.
type Handler func(Notification)

type subscription struct {
	topics  map[Topic]bool // nil means every topic
	handler Handler
}

// Bus fans engine notifications out to subscribers from a single consumer
// goroutine, so every subscriber sees notifications in publish order.
// Publish never blocks: when the queue is full the notification is dropped
// and counted.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription

	queue    chan Notification
	stopChan chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a bus with the given queue length.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	return &Bus{
		queue:    make(chan Notification, size),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for the given topics, or for every topic when none
// are given. Subscribe before Start to see every notification.
func (b *Bus) Subscribe(h Handler, topics ...Topic) {
	s := subscription{handler: h}
	if len(topics) > 0 {
		s.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Publish queues n for delivery. It returns false if the queue was full.
func (b *Bus) Publish(n Notification) bool {
	select {
	case b.queue <- n:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		observability.IncrementBusDropped()
		return false
	}
}

// Start launches the consumer goroutine. Calling it twice is a no-op.
func (b *Bus) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run()
}

// Stop delivers whatever is already queued and stops the consumer.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		if b.started.Load() {
			<-b.done
		}
	})
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case n := <-b.queue:
			b.dispatch(n)
		case <-b.stopChan:
			for {
				select {
				case n := <-b.queue:
					b.dispatch(n)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(n Notification) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.topics != nil && !s.topics[n.Topic] {
			continue
		}
		b.call(s.handler, n)
	}
}

// call isolates the consumer from a panicking subscriber.
func (b *Bus) call(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Bus subscriber panicked on %s: %v", n.Topic, r)
		}
	}()
	h(n)
}

// Stats returns published and dropped notification counts.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

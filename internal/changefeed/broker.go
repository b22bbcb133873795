// Package changefeed fans snippet change events out to the subscribers of
// each user, in publish order.
//
// TOPICS:
// Every user id is a topic. Publishing for "u1" reaches the subscribers of
// "u1" and nobody else; ownership is checked by whoever publishes.
//
// ORDERING AND SLOW SUBSCRIBERS:
// Each subscriber has its own unbounded FIFO and its own delivery goroutine.
// Publish only appends to the queues and returns, so a slow WebSocket client
// never blocks a write request or the other subscribers. Events reach one
// subscriber in exactly the order they were published.
//
// SNAPSHOT + LIVE:
// Subscribe takes an optional Snapshot func and runs it while publishing is
// held off. The subscriber therefore sees the current documents as added
// events followed by every change after them, with no gap and no duplicate
// in between.
//
// SEVERAL INSTANCES:
// A Broker is local to one process. RedisRelay (relay.go) publishes through
// Redis as well, and feeds events from the other instances into the local
// Broker:
//
//	instance A: Publish → Broker A  +  PUBLISH snippets:user:<id>
//	instance B: PSUBSCRIBE snippets:user:* → Broker B
package changefeed

import (
	"log/slog"
	"sync"

	"github.com/sakif/snippetvault/internal/metrics"
	"github.com/sakif/snippetvault/internal/remote"
)

// Publisher is what writers of the collection need: somewhere to announce a
// change for a user.
type Publisher interface {
	Publish(userID string, ev remote.Event)
}

// Snapshot produces the events a new subscriber starts from.
type Snapshot func() ([]remote.Event, error)

var _ Publisher = (*Broker)(nil)

// Broker is the in-process fan-out. The zero value is not usable; use
// NewBroker.
type Broker struct {
	mu      sync.Mutex
	topics  map[string]map[uint64]*subscriber
	nextID  uint64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Broker.
type Option func(*Broker)

// WithMetrics counts subscribers and delivered events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// NewBroker returns an empty Broker. Close it to stop every delivery
// goroutine.
func NewBroker(logger *slog.Logger, opts ...Option) *Broker {
	b := &Broker{
		topics: make(map[string]map[uint64]*subscriber),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for userID's events. initial, if not nil, runs while
// publishing is held off, so no event falls between the snapshot it returns
// and the live events that follow it.
func (b *Broker) Subscribe(userID string, fn remote.ChangeFunc, initial Snapshot) (remote.Unsubscribe, error) {
	sub := newSubscriber(fn)

	b.mu.Lock()
	if initial != nil {
		events, err := initial()
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub.push(events...)
	}
	b.nextID++
	id := b.nextID
	topic, ok := b.topics[userID]
	if !ok {
		topic = make(map[uint64]*subscriber)
		b.topics[userID] = topic
	}
	topic[id] = sub
	count := len(topic)
	b.mu.Unlock()

	go sub.run()
	b.metrics.RecordSubscribe()
	b.logger.Debug("feed subscribe",
		slog.String("user_id", userID),
		slog.Int("subscribers", count),
	)

	return remote.OnceUnsubscribe(func() {
		b.mu.Lock()
		_, live := b.topics[userID][id]
		if live {
			delete(b.topics[userID], id)
			if len(b.topics[userID]) == 0 {
				delete(b.topics, userID)
			}
		}
		b.mu.Unlock()

		sub.stop()
		if live {
			b.metrics.RecordUnsubscribe()
			b.logger.Debug("feed unsubscribe", slog.String("user_id", userID))
		}
	}), nil
}

// Publish queues ev for every current subscriber of userID. It never blocks
// on a slow subscriber.
func (b *Broker) Publish(userID string, ev remote.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[userID] {
		sub.push(ev)
	}
	b.metrics.RecordEvent(string(ev.Kind))
}

// Subscribers reports how many subscriptions userID has.
func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[userID])
}

// Close drops every subscription and waits for their deliveries to stop.
func (b *Broker) Close() {
	b.mu.Lock()
	var subs []*subscriber
	for userID, topic := range b.topics {
		for _, sub := range topic {
			subs = append(subs, sub)
		}
		delete(b.topics, userID)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
		b.metrics.RecordUnsubscribe()
	}
}

// subscriber owns an unbounded FIFO drained by its own goroutine.
type subscriber struct {
	fn remote.ChangeFunc

	mu    sync.Mutex
	queue []remote.Event
	wake  chan struct{}

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func newSubscriber(fn remote.ChangeFunc) *subscriber {
	return &subscriber{
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (s *subscriber) push(events ...remote.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, events...)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.exited)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}

		if len(batch) > 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// stop ends delivery and waits for the goroutine to exit.
func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.exited
}

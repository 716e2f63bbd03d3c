package feed

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrBrokerClosed is returned by Subscribe after Close.
var ErrBrokerClosed = errors.New("broker closed")

const subscriberQueueSize = 1024

// Broker is an in-process Feed implementation. Each subscriber gets a
// buffered queue drained by its own goroutine, so a slow handler cannot
// stall Publish; when a queue is full the payload is dropped for that
// subscriber and counted, never blocked on.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[string]*subscriber
	closed bool
	log    *slog.Logger
}

type subscriber struct {
	id      string
	topic   string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	broker  *Broker
	handler Handler
}

// NewBroker creates an empty broker.
func NewBroker(log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		topics: make(map[string]map[string]*subscriber),
		log:    log,
	}
}

// Subscribe registers a handler for a topic and starts its delivery loop.
func (b *Broker) Subscribe(topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &subscriber{
		id:      uuid.NewString(),
		topic:   topic,
		queue:   make(chan []byte, subscriberQueueSize),
		done:    make(chan struct{}),
		broker:  b,
		handler: h,
	}

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*subscriber)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub

	go sub.runLoop()
	return sub, nil
}

// Publish delivers one payload to every subscriber of the topic.
func (b *Broker) Publish(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.topics[topic] {
		select {
		case sub.queue <- payload:
		default:
			b.log.Warn("subscriber queue full, dropping payload", "topic", topic, "subscriber", sub.id)
		}
	}
}

// Close shuts the broker down and releases every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0)
	for _, topicSubs := range b.topics {
		for _, sub := range topicSubs {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]map[string]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}

func (s *subscriber) runLoop() {
	for {
		select {
		case payload := <-s.queue:
			s.handler(payload)
		case <-s.done:
			// Drain what was queued before the stop.
			for {
				select {
				case payload := <-s.queue:
					s.handler(payload)
				default:
					return
				}
			}
		}
	}
}

// Unsubscribe releases the subscription.
func (s *subscriber) Unsubscribe() {
	s.broker.remove(s)
	s.stop()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

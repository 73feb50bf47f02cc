// Package memory provides an in-process message bus for single-node
// deployments and tests. Delivery semantics match the Redis driver: a
// subscription sees every message published to its topic after Subscribe
// returns, in publish order.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// Compile-time check: Broker implements bus.Bus.
var _ bus.Bus = (*Broker)(nil)

// Broker is an in-process bus. Subscribers never block publishers: each
// subscription queues deliveries and hands them over on its own goroutine.
type Broker struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

// Ping reports ErrClosed after Close.
func (b *Broker) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &bus.Error{Op: bus.OpPing, Err: bus.ErrClosed}
	}
	return nil
}

// WaitForReady returns immediately; an open broker is always ready.
func (b *Broker) WaitForReady(ctx context.Context, _ time.Duration) error {
	return b.Ping(ctx)
}

// Close stops every open subscription with ErrClosed.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, s := range all {
		s.stop(&bus.Error{Op: bus.OpRead, Topic: s.topic, Err: bus.ErrClosed})
	}
}

// Publish fans the message out to every current subscriber of topic.
func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &bus.Error{Op: bus.OpPublish, Topic: topic, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", &bus.Error{Op: bus.OpPublish, Topic: topic, Err: bus.ErrClosed}
	}

	b.seq++
	msg := bus.Message{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Topic:   topic,
		Key:     key,
		Payload: append([]byte(nil), payload...),
	}
	for s := range b.subs[topic] {
		s.push(msg)
	}
	return msg.ID, nil
}

// Subscribe registers a subscription that lives until Close, ctx cancellation or broker shutdown.
func (b *Broker) Subscribe(ctx context.Context, topic string) (bus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &bus.Error{Op: bus.OpSubscribe, Topic: topic, Err: err}
	}

	s := &subscription{
		broker: b,
		topic:  topic,
		out:    make(chan bus.Message),
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &bus.Error{Op: bus.OpSubscribe, Topic: topic, Err: bus.ErrClosed}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// Subscribers returns the number of open subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

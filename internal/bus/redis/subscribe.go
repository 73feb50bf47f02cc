package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// streamStart is the id preceding every possible entry.
const streamStart = "0-0"

// Subscribe fixes the current end of the topic stream and starts a reader
// that delivers every entry appended after it. Failing to reach Redis here
// is reported synchronously.
func (b *Bus) Subscribe(ctx context.Context, topic string) (bus.Subscription, error) {
	last, err := b.lastID(ctx, topic)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		bus:    b,
		topic:  topic,
		msgs:   make(chan bus.Message, b.cfg.BufferSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(readCtx, last)
	return s, nil
}

// lastID returns the id of the newest entry, or streamStart for an empty stream.
func (b *Bus) lastID(ctx context.Context, topic string) (string, error) {
	cmd := b.b().Arbitrary("XREVRANGE").Keys(topic).Args("+", "-", "COUNT", "1").Build()
	raw, err := b.do(ctx, cmd).ToArray()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return streamStart, nil
		}
		return "", &bus.Error{Op: bus.OpSubscribe, Topic: topic, Err: err}
	}
	if len(raw) == 0 {
		return streamStart, nil
	}
	e, err := parseEntry(topic, raw[0])
	if err != nil {
		return "", &bus.Error{Op: bus.OpSubscribe, Topic: topic, Err: err}
	}
	return e.ID, nil
}

type subscription struct {
	bus    *Bus
	topic  string
	msgs   chan bus.Message
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan bus.Message { return s.msgs }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the reader and waits for it to exit, so no XREAD is left in flight.
func (s *subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *subscription) run(ctx context.Context, last string) {
	defer close(s.done)
	defer close(s.msgs)

	count := strconv.Itoa(s.bus.cfg.ReadCount)
	block := strconv.FormatInt(s.bus.cfg.Block.Milliseconds(), 10)

	for {
		cmd := s.bus.b().Arbitrary("XREAD").Args(
			"COUNT", count, "BLOCK", block, "STREAMS", s.topic, last,
		).Blocking()

		raw, err := s.bus.do(ctx, cmd).ToArray()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			s.fail(&bus.Error{Op: bus.OpRead, Topic: s.topic, Err: err})
			return
		}

		entries, err := parseXRead(s.topic, raw)
		if err != nil {
			s.fail(&bus.Error{Op: bus.OpRead, Topic: s.topic, Err: err})
			return
		}
		for _, e := range entries {
			select {
			case s.msgs <- e:
				last = e.ID
			case <-ctx.Done():
				return
			}
		}
	}
}

// parseXRead flattens a RESP2 XREAD reply: [[stream, [[id, [f, v, ...]], ...]], ...].
func parseXRead(topic string, raw []rueidis.RedisMessage) ([]bus.Message, error) {
	var out []bus.Message
	for _, stream := range raw {
		parts, err := stream.ToArray()
		if err != nil {
			return nil, fmt.Errorf("parse stream reply: %w", err)
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("parse stream reply: expected 2 elements, got %d", len(parts))
		}
		items, err := parts[1].ToArray()
		if err != nil {
			return nil, fmt.Errorf("parse stream entries: %w", err)
		}
		for _, item := range items {
			e, err := parseEntry(topic, item)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// parseEntry decodes one [id, [field, value, ...]] stream entry.
func parseEntry(topic string, item rueidis.RedisMessage) (bus.Message, error) {
	kv, err := item.ToArray()
	if err != nil {
		return bus.Message{}, fmt.Errorf("parse entry: %w", err)
	}
	if len(kv) != 2 {
		return bus.Message{}, fmt.Errorf("parse entry: expected 2 elements, got %d", len(kv))
	}
	id, err := kv[0].ToString()
	if err != nil {
		return bus.Message{}, fmt.Errorf("parse entry id: %w", err)
	}
	fields, err := kv[1].AsStrSlice()
	if err != nil {
		return bus.Message{}, fmt.Errorf("parse entry %s fields: %w", id, err)
	}

	msg := bus.Message{ID: id, Topic: topic}
	for i := 0; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case fieldKey:
			msg.Key = fields[i+1]
		case fieldPayload:
			msg.Payload = []byte(fields[i+1])
		}
	}
	return msg, nil
}

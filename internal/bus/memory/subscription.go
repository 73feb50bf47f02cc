package memory

import (
	"context"
	"sync"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

type subscription struct {
	broker *Broker
	topic  string
	out    chan bus.Message
	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []bus.Message
	err   error

	stopOnce sync.Once
}

func (s *subscription) Messages() <-chan bus.Message { return s.out }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches from the broker and waits for the delivery goroutine to exit.
func (s *subscription) Close() error {
	s.broker.remove(s)
	s.stop(nil)
	<-s.done
	return nil
}

func (s *subscription) stop(err error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.queue = nil
		s.mu.Unlock()
		close(s.quit)
	})
}

func (s *subscription) push(msg bus.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (bus.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return bus.Message{}, false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	defer s.broker.remove(s)

	for {
		msg, ok := s.pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.out <- msg:
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

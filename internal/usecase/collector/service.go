package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/peerquery/internal/bus"
	"github.com/kailas-cloud/peerquery/internal/domain/message"
	"github.com/kailas-cloud/peerquery/internal/metrics"
)

// Service opens collection windows on the result topic.
type Service struct {
	sub    Subscriber
	topic  string
	logger *zap.Logger
}

// New creates a collector reading responses from topic.
func New(sub Subscriber, topic string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sub: sub, topic: topic, logger: logger}
}

// Window accumulates responses for a single correlation id.
// Responses published after Open returns are guaranteed to be observed.
type Window struct {
	id     string
	topic  string
	sub    bus.Subscription
	logger *zap.Logger

	nodes   map[string]struct{}
	results []string

	closeOnce sync.Once
}

// Open subscribes to the result topic and returns a window for id.
// The subscription lives until ctx is cancelled or the window is closed.
func (s *Service) Open(ctx context.Context, id string) (*Window, error) {
	sub, err := s.sub.Subscribe(ctx, s.topic)
	if err != nil {
		return nil, fmt.Errorf("open collection window %s: %w", id, err)
	}
	return &Window{
		id:     id,
		topic:  s.topic,
		sub:    sub,
		logger: s.logger.With(zap.String("query_id", id)),
		nodes:  make(map[string]struct{}),
	}, nil
}

// Collect opens a window for id and gathers responses until deadline.
func (s *Service) Collect(ctx context.Context, id string, deadline time.Time) ([]string, error) {
	w, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.Gather(ctx, deadline)
}

// Gather merges responses for the window's id until deadline passes.
// A deadline that has already passed drains whatever is buffered without blocking.
// Reaching the deadline is not an error; ctx cancellation and transport failure are.
// The window is closed when Gather returns.
func (w *Window) Gather(ctx context.Context, deadline time.Time) ([]string, error) {
	defer w.Close()

	msgs := w.sub.Messages()
	wait := time.Until(deadline)
	if wait <= 0 {
		return w.drain(ctx, msgs)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return w.collected(), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("gather responses %s: %w", w.id, ctx.Err())
		case msg, ok := <-msgs:
			if !ok {
				return nil, w.stopped(ctx)
			}
			w.accept(msg)
		}
	}
}

func (w *Window) drain(ctx context.Context, msgs <-chan bus.Message) ([]string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gather responses %s: %w", w.id, err)
		}
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil, w.stopped(ctx)
			}
			w.accept(msg)
		default:
			return w.collected(), nil
		}
	}
}

// Close releases the window's subscription. Safe to call more than once.
func (w *Window) Close() {
	w.closeOnce.Do(func() {
		if err := w.sub.Close(); err != nil {
			w.logger.Warn("Failed to close result subscription", zap.Error(err))
		}
	})
}

func (w *Window) accept(msg bus.Message) {
	resp, err := message.DecodeResponse(msg.Payload)
	if err != nil {
		metrics.DecodeFailuresTotal.WithLabelValues(w.topic).Inc()
		w.logger.Warn("Skipping malformed response",
			zap.String("entry_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	if resp.ID() != w.id {
		return
	}
	if _, dup := w.nodes[resp.Node()]; dup {
		metrics.DuplicateResponsesTotal.Inc()
		w.logger.Debug("Ignoring duplicate response", zap.String("node", resp.Node()))
		return
	}
	w.nodes[resp.Node()] = struct{}{}
	w.results = append(w.results, resp.Results()...)
	metrics.RemoteResponsesTotal.Inc()
}

func (w *Window) collected() []string {
	if w.results == nil {
		return []string{}
	}
	return w.results
}

// stopped maps an unexpectedly closed message channel to an error.
func (w *Window) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gather responses %s: %w", w.id, err)
	}
	if err := w.sub.Err(); err != nil {
		return fmt.Errorf("gather responses %s: %w", w.id, err)
	}
	return fmt.Errorf("gather responses %s: %w", w.id, bus.ErrSubscriptionClosed)
}

// Responders reports how many distinct nodes have answered so far.
func (w *Window) Responders() int { return len(w.nodes) }


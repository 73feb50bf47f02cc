package listener

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/peerquery/internal/bus"
	"github.com/kailas-cloud/peerquery/internal/domain/message"
	"github.com/kailas-cloud/peerquery/internal/metrics"
)

// Outcome describes what Handle did with one inbound message.
type Outcome int

const (
	// Responded means a response was published to the result topic.
	Responded Outcome = iota
	// SelfEcho means the query originated on this node and was dropped.
	SelfEcho
	// Malformed means the message failed decoding and was skipped.
	Malformed
	// Failed means execution or publishing the response failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Responded:
		return "responded"
	case SelfEcho:
		return "self_echo"
	case Malformed:
		return "malformed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Config holds the listener's addressing.
type Config struct {
	NodeID      string
	QueryTopic  string
	ResultTopic string
}

// Service answers queries broadcast by peers.
type Service struct {
	cfg      Config
	bus      Bus
	executor Executor
	seen     SeenChecker
	logger   *zap.Logger
	running  atomic.Bool
}

// New creates a listener.
func New(cfg Config, b Bus, exec Executor, seen SeenChecker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		bus:      b,
		executor: exec,
		seen:     seen,
		logger:   logger.With(zap.String("node", cfg.NodeID)),
	}
}

// Running reports whether the listener is consuming the query topic.
func (s *Service) Running() bool { return s.running.Load() }

// Open subscribes to the query topic.
func (s *Service) Open(ctx context.Context) (bus.Subscription, error) {
	sub, err := s.bus.Subscribe(ctx, s.cfg.QueryTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to queries: %w", err)
	}
	return sub, nil
}

// Run subscribes and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.Open(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, sub)
}

// Serve handles messages from sub one at a time and closes sub on return.
// It returns nil on ctx cancellation and an error if the subscription dies.
func (s *Service) Serve(ctx context.Context, sub bus.Subscription) error {
	defer func() { _ = sub.Close() }()

	s.running.Store(true)
	defer s.running.Store(false)
	s.logger.Info("Query listener started", zap.String("topic", s.cfg.QueryTopic))

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Query listener stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					s.logger.Info("Query listener stopped")
					return nil
				}
				if err := sub.Err(); err != nil {
					return fmt.Errorf("serve queries: %w", err)
				}
				return fmt.Errorf("serve queries: %w", bus.ErrSubscriptionClosed)
			}
			s.Handle(ctx, msg)
		}
	}
}

// Handle answers a single inbound query message. Safe for concurrent use.
func (s *Service) Handle(ctx context.Context, msg bus.Message) Outcome {
	q, err := message.DecodeQuery(msg.Payload)
	if err != nil {
		metrics.DecodeFailuresTotal.WithLabelValues(s.cfg.QueryTopic).Inc()
		s.logger.Warn("Skipping malformed query",
			zap.String("entry_id", msg.ID),
			zap.Error(err),
		)
		return Malformed
	}

	if s.seen.Contains(q.ID()) {
		metrics.SelfEchoDroppedTotal.Inc()
		s.logger.Debug("Dropping own broadcast", zap.String("query_id", q.ID()))
		return SelfEcho
	}

	results, err := s.executor.Execute(ctx, q.Text())
	if err != nil {
		return s.fail(q, "Query execution failed", err)
	}

	payload, err := message.EncodeResponse(message.NewResponse(q.ID(), s.cfg.NodeID, results))
	if err != nil {
		return s.fail(q, "Response encoding failed", err)
	}

	if _, err := s.bus.Publish(ctx, s.cfg.ResultTopic, q.ID(), payload); err != nil {
		return s.fail(q, "Response publish failed", err)
	}

	metrics.ListenerResponsesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("Answered peer query",
		zap.String("query_id", q.ID()),
		zap.String("origin", q.Origin()),
	)
	return Responded
}

func (s *Service) fail(q message.Query, msg string, err error) Outcome {
	metrics.ListenerResponsesTotal.WithLabelValues("error").Inc()
	s.logger.Error(msg,
		zap.String("query_id", q.ID()),
		zap.String("origin", q.Origin()),
		zap.Error(err),
	)
	return Failed
}

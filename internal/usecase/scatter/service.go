package scatter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/peerquery/internal/domain/message"
	"github.com/kailas-cloud/peerquery/internal/metrics"
)

// DefaultBroadcastSuffix marks query text relayed to peers.
const DefaultBroadcastSuffix = " (broadcast)"

// Config holds the coordinator's addressing and limits.
// MaxTimeout caps the collection window; zero leaves it unbounded.
type Config struct {
	NodeID          string
	QueryTopic      string
	BroadcastSuffix string
	MaxTimeout      time.Duration
}

// Result is the outcome of one scatter-gather query.
type Result struct {
	ID         string
	Local      []string
	Remote     []string
	Responders int
}

// Lines returns local results followed by remote results in arrival order.
func (r Result) Lines() []string {
	out := make([]string, 0, len(r.Local)+len(r.Remote))
	out = append(out, r.Local...)
	return append(out, r.Remote...)
}

// Service broadcasts queries and merges the local answer with peer responses.
type Service struct {
	cfg       Config
	publisher Publisher
	windows   WindowOpener
	executor  Executor
	seen      SeenRecorder
	logger    *zap.Logger
}

// New creates a coordinator.
func New(
	cfg Config, pub Publisher, windows WindowOpener,
	exec Executor, seen SeenRecorder, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		publisher: pub,
		windows:   windows,
		executor:  exec,
		seen:      seen,
		logger:    logger,
	}
}

// Submit runs a scatter-gather query and returns the merged result lines.
func (s *Service) Submit(ctx context.Context, text string, timeout time.Duration) ([]string, error) {
	res, err := s.Scatter(ctx, text, timeout)
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

// Scatter broadcasts text, answers it locally and collects peer responses
// until timeout elapses. Non-positive timeouts collect only what is already delivered;
// timeouts above Config.MaxTimeout are clamped to it.
// Any failure fails the whole query; no partial results are returned.
func (s *Service) Scatter(ctx context.Context, text string, timeout time.Duration) (Result, error) {
	start := time.Now()
	res, err := s.scatter(ctx, text, timeout)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Warn("Query failed",
			zap.String("query_id", res.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return Result{}, err
	}
	s.logger.Info("Query completed",
		zap.String("query_id", res.ID),
		zap.Int("local", len(res.Local)),
		zap.Int("remote", len(res.Remote)),
		zap.Int("responders", res.Responders),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Service) scatter(ctx context.Context, text string, timeout time.Duration) (Result, error) {
	if timeout < 0 {
		timeout = 0
	}
	if s.cfg.MaxTimeout > 0 && timeout > s.cfg.MaxTimeout {
		timeout = s.cfg.MaxTimeout
	}
	deadline := time.Now().Add(timeout)

	q := message.NewQuery(text+s.cfg.BroadcastSuffix, s.cfg.NodeID)
	res := Result{ID: q.ID()}

	payload, err := message.EncodeQuery(q)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	w, err := s.windows.Open(ctx, q.ID())
	if err != nil {
		return res, stageError(StageSubscribe, ErrTransport, err)
	}
	defer w.Close()

	s.seen.Put(q.ID())
	if _, err := s.publisher.Publish(ctx, s.cfg.QueryTopic, q.ID(), payload); err != nil {
		if ctx.Err() != nil {
			return res, stageError(StagePublish, ErrInterrupted, err)
		}
		return res, stageError(StagePublish, ErrTransport, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	var localErr, collectErr error

	g.Go(func() error {
		out, err := s.executor.Execute(gctx, text)
		if err != nil {
			localErr = err
			return err
		}
		res.Local = out
		return nil
	})
	g.Go(func() error {
		out, err := w.Gather(gctx, deadline)
		if err != nil {
			collectErr = err
			return err
		}
		res.Remote = out
		return nil
	})
	_ = g.Wait()
	res.Responders = w.Responders()

	return res, combine(
		s.localError(ctx, localErr, collectErr),
		s.collectError(ctx, collectErr, localErr),
	)
}

func (s *Service) localError(ctx context.Context, err, sibling error) error {
	if err == nil || induced(ctx, err, sibling) {
		return nil
	}
	if ctx.Err() != nil {
		return stageError(StageLocal, ErrInterrupted, err)
	}
	return stageError(StageLocal, ErrLocalExecution, err)
}

func (s *Service) collectError(ctx context.Context, err, sibling error) error {
	if err == nil || induced(ctx, err, sibling) {
		return nil
	}
	if ctx.Err() != nil {
		return stageError(StageCollect, ErrInterrupted, err)
	}
	return stageError(StageCollect, ErrTransport, err)
}

// induced reports whether err is only the errgroup cancelling a task after its sibling failed.
func induced(ctx context.Context, err, sibling error) bool {
	return sibling != nil && ctx.Err() == nil && errors.Is(err, context.Canceled)
}

package peerquery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/peerquery/internal/bus"
	busRedis "github.com/kailas-cloud/peerquery/internal/bus/redis"
	"github.com/kailas-cloud/peerquery/internal/config"
	"github.com/kailas-cloud/peerquery/internal/domain/message"
	"github.com/kailas-cloud/peerquery/internal/repository/seen"
	"github.com/kailas-cloud/peerquery/internal/usecase/collector"
	"github.com/kailas-cloud/peerquery/internal/usecase/executor"
	healthuc "github.com/kailas-cloud/peerquery/internal/usecase/health"
	"github.com/kailas-cloud/peerquery/internal/usecase/listener"
	"github.com/kailas-cloud/peerquery/internal/usecase/scatter"
)

const (
	defaultQueryTopic       = "peerquery:query"
	defaultResultTopic      = "peerquery:result"
	defaultReadinessTimeout = 10 * time.Second
)

// Query failures. Use errors.Is to classify an error returned by Submit.
var (
	ErrTransport      = scatter.ErrTransport
	ErrLocalExecution = scatter.ErrLocalExecution
	ErrInterrupted    = scatter.ErrInterrupted
	ErrInvalidQuery   = scatter.ErrInvalidQuery
	ErrNodeClosed     = errors.New("peerquery: node closed")
)

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

// Health summarizes node health.
type Health struct {
	Status string            // "ok", "degraded" or "error"
	Checks map[string]string // component -> "ok" / "error"
}

// Node is a peer in a scatter-gather cluster: it answers peers' queries and
// coordinates its own.
type Node struct {
	id       string
	bus      bus.Bus
	ownsBus  bool
	scatter  *scatter.Service
	listener *listener.Service
	health   *healthuc.Service
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	serve   error
	started bool
	closed  bool
}

// New creates a Node and waits for its bus to become ready.
// Call Start to begin answering peers.
func New(ctx context.Context, opts ...Option) (*Node, error) {
	cfg := &nodeConfig{
		queryTopic:       defaultQueryTopic,
		resultTopic:      defaultResultTopic,
		broadcastSuffix:  scatter.DefaultBroadcastSuffix,
		dedupCapacity:    seen.DefaultCapacity,
		dedupTTL:         seen.DefaultTTL,
		readinessTimeout: defaultReadinessTimeout,
	}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.nodeID == "" {
		cfg.nodeID = config.DefaultNodeID()
	}
	if !message.ValidNodeID(cfg.nodeID) {
		return nil, fmt.Errorf("peerquery: invalid node id %q", cfg.nodeID)
	}
	if cfg.queryTopic == "" || cfg.resultTopic == "" || cfg.queryTopic == cfg.resultTopic {
		return nil, fmt.Errorf("peerquery: query and result topics must be distinct and non-empty")
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	b, owns, err := createBus(cfg)
	if err != nil {
		return nil, err
	}

	if err := b.WaitForReady(ctx, cfg.readinessTimeout); err != nil {
		if owns {
			b.Close()
		}
		return nil, fmt.Errorf("peerquery: bus not ready: %w", err)
	}

	return wireNode(b, owns, cfg), nil
}

func createBus(cfg *nodeConfig) (bus.Bus, bool, error) {
	switch cfg.driver {
	case "memory":
		if cfg.memory == nil {
			return nil, false, errors.New("peerquery: nil memory bus")
		}
		return cfg.memory.broker, false, nil
	case "redis":
		b, err := busRedis.NewBus(busRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
			MaxLen:   cfg.streamMaxLen,
		})
		if err != nil {
			return nil, false, fmt.Errorf("peerquery: create redis bus: %w", err)
		}
		return b, true, nil
	default:
		return nil, false, errors.New("peerquery: bus required (use WithRedis or WithMemoryBus)")
	}
}

func wireNode(b bus.Bus, owns bool, cfg *nodeConfig) *Node {
	logger := cfg.logger.With(zap.String("node", cfg.nodeID))
	cache := seen.New(cfg.dedupCapacity, cfg.dedupTTL)
	exec := executor.New(cfg.nodeID)

	l := listener.New(listener.Config{
		NodeID:      cfg.nodeID,
		QueryTopic:  cfg.queryTopic,
		ResultTopic: cfg.resultTopic,
	}, b, exec, cache, logger)

	s := scatter.New(scatter.Config{
		NodeID:          cfg.nodeID,
		QueryTopic:      cfg.queryTopic,
		BroadcastSuffix: cfg.broadcastSuffix,
		MaxTimeout:      cfg.maxTimeout,
	}, b, collector.New(b, cfg.resultTopic, logger), exec, cache, logger)

	return &Node{
		id:       cfg.nodeID,
		bus:      b,
		ownsBus:  owns,
		scatter:  s,
		listener: l,
		health:   healthuc.New(b, l),
		logger:   logger,
	}
}

// ID returns the node identity.
func (n *Node) ID() string { return n.id }

// Start subscribes to the query topic and answers peers in the background
// until Close. Queries published before Start returns may be missed.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := n.listener.Open(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("peerquery: start listener: %w", err)
	}

	n.cancel = cancel
	n.done = make(chan struct{})
	n.started = true
	go func() {
		defer close(n.done)
		if err := n.listener.Serve(runCtx, sub); err != nil {
			n.logger.Error("Query listener failed", zap.Error(err))
			n.mu.Lock()
			n.serve = err
			n.mu.Unlock()
		}
	}()
	return nil
}

// Submit broadcasts text, answers it locally and returns local results
// followed by every peer response received within timeout.
func (n *Node) Submit(ctx context.Context, text string, timeout time.Duration) ([]string, error) {
	res, err := n.Query(ctx, text, timeout)
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

// Query is Submit with the result split by origin.
func (n *Node) Query(ctx context.Context, text string, timeout time.Duration) (Result, error) {
	if n.isClosed() {
		return Result{}, ErrNodeClosed
	}
	res, err := n.scatter.Scatter(ctx, text, timeout)
	if err != nil {
		return Result{}, fmt.Errorf("peerquery: %w", err)
	}
	return Result{
		ID:         res.ID,
		Local:      res.Local,
		Remote:     res.Remote,
		Responders: res.Responders,
	}, nil
}

// Listening reports whether the node is answering peers.
func (n *Node) Listening() bool { return n.listener.Running() }

// Health checks the bus and the listener.
func (n *Node) Health(ctx context.Context) Health {
	report := n.health.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return Health{Status: string(report.Status), Checks: checks}
}

// Close stops the listener and releases the bus if the node created it.
// It returns the error that stopped the listener early, if any.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	cancel, done := n.cancel, n.done
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if n.ownsBus {
		n.bus.Close()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.serve
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

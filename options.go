package peerquery

import (
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/peerquery/internal/bus/memory"
)

// Option configures a Node.
type Option interface {
	apply(*nodeConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*nodeConfig)

func (f optionFunc) apply(c *nodeConfig) { f(c) }

type nodeConfig struct {
	driver   string // "redis" or "memory"
	addrs    []string
	password string
	memory   *MemoryBus

	nodeID          string
	queryTopic      string
	resultTopic     string
	broadcastSuffix string
	streamMaxLen    int64
	maxTimeout      time.Duration

	dedupCapacity int
	dedupTTL      time.Duration

	readinessTimeout time.Duration
	logger           *zap.Logger
}

// MemoryBus is an in-process bus shared by nodes in the same process.
// Useful for tests and single-binary demos.
type MemoryBus struct {
	broker *memory.Broker
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{broker: memory.NewBroker()}
}

// Close stops every subscription on the bus.
func (m *MemoryBus) Close() { m.broker.Close() }

// WithRedis connects the node to Redis Streams at the given addresses.
func WithRedis(password string, addrs ...string) Option {
	return optionFunc(func(c *nodeConfig) {
		c.driver = "redis"
		c.addrs = addrs
		c.password = password
	})
}

// WithMemoryBus attaches the node to an in-process bus. The node does not close it.
func WithMemoryBus(b *MemoryBus) Option {
	return optionFunc(func(c *nodeConfig) {
		c.driver = "memory"
		c.memory = b
	})
}

// WithNodeID sets the node identity carried in responses.
// Default: hostname plus a random suffix.
func WithNodeID(id string) Option {
	return optionFunc(func(c *nodeConfig) {
		c.nodeID = id
	})
}

// WithTopics overrides the query and result topic names.
// Defaults: "peerquery:query" and "peerquery:result".
func WithTopics(query, result string) Option {
	return optionFunc(func(c *nodeConfig) {
		c.queryTopic = query
		c.resultTopic = result
	})
}

// WithBroadcastSuffix sets the text appended to queries relayed to peers.
// Default: " (broadcast)".
func WithBroadcastSuffix(suffix string) Option {
	return optionFunc(func(c *nodeConfig) {
		c.broadcastSuffix = suffix
	})
}

// WithDedup sizes the cache of ids this node originated.
// Defaults: 100 entries, 10 minutes.
func WithDedup(capacity int, ttl time.Duration) Option {
	return optionFunc(func(c *nodeConfig) {
		c.dedupCapacity = capacity
		c.dedupTTL = ttl
	})
}

// WithStreamMaxLen caps Redis stream length (approximate trimming).
// Default: 10000.
func WithStreamMaxLen(n int64) Option {
	return optionFunc(func(c *nodeConfig) {
		c.streamMaxLen = n
	})
}

// WithMaxTimeout caps the collection window of every query.
// Default: unbounded.
func WithMaxTimeout(d time.Duration) Option {
	return optionFunc(func(c *nodeConfig) {
		c.maxTimeout = d
	})
}

// WithReadinessTimeout bounds the initial bus readiness check.
// Default: 10s.
func WithReadinessTimeout(d time.Duration) Option {
	return optionFunc(func(c *nodeConfig) {
		c.readinessTimeout = d
	})
}

// WithLogger enables structured logging. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *nodeConfig) {
		c.logger = l
	})
}

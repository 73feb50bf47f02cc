package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// Compile-time check: Bus implements bus.Bus.
var _ bus.Bus = (*Bus)(nil)

const (
	defaultMaxLen     = 10000
	defaultBlock      = 250 * time.Millisecond
	defaultReadCount  = 100
	defaultBufferSize = 64
)

// Config holds connection and stream parameters for a Redis bus.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int

	// MaxLen caps each topic stream (XADD MAXLEN ~). Older entries are trimmed by Redis.
	MaxLen int64
	// Block is how long a single XREAD waits before re-checking for cancellation.
	Block time.Duration
	// ReadCount is the XREAD COUNT per round trip.
	ReadCount int
	// BufferSize is the per-subscription delivery channel capacity.
	BufferSize int
}

func (c *Config) applyDefaults() {
	if c.MaxLen <= 0 {
		c.MaxLen = defaultMaxLen
	}
	if c.Block <= 0 {
		c.Block = defaultBlock
	}
	if c.ReadCount <= 0 {
		c.ReadCount = defaultReadCount
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
}

// Bus implements bus.Bus on Redis Streams via rueidis.
// Each topic is one stream; every subscription reads the whole stream
// from its own position, so all subscribers see every message.
type Bus struct {
	client rueidis.Client
	cfg    Config
}

// NewBus creates a Redis Streams bus via rueidis.
func NewBus(cfg Config) (*Bus, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	cfg.applyDefaults()

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // XREAD/XREVRANGE parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Bus{client: client, cfg: cfg}, nil
}

// Ping checks connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	cmd := b.client.B().Ping().Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return &bus.Error{Op: bus.OpPing, Err: err}
	}
	return nil
}

// Close shuts down the client. Open subscriptions stop with an error.
func (b *Bus) Close() {
	b.client.Close()
}

// WaitForReady polls Ping until Redis responds or timeout expires.
func (b *Bus) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for message bus: %w", ctx.Err())
		case <-ticker.C:
			if err := b.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func (b *Bus) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return b.client.Do(ctx, cmd)
}

func (b *Bus) b() rueidis.Builder {
	return b.client.B()
}

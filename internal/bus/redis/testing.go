package redis

import "github.com/redis/rueidis"

// NewBusForTest creates a Bus with the provided rueidis client (test-only).
func NewBusForTest(c rueidis.Client, cfg Config) *Bus {
	cfg.applyDefaults()
	return &Bus{client: c, cfg: cfg}
}

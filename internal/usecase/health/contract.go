package health

import "context"

// BusPinger checks message bus availability.
type BusPinger interface {
	Ping(ctx context.Context) error
}

// ListenerChecker reports whether the inbound query listener is consuming.
type ListenerChecker interface {
	Running() bool
}

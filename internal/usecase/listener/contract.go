package listener

import (
	"context"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// Bus carries inbound queries and outbound responses.
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload []byte) (string, error)
	Subscribe(ctx context.Context, topic string) (bus.Subscription, error)
}

// Executor answers a query on this node.
type Executor interface {
	Execute(ctx context.Context, text string) ([]string, error)
}

// SeenChecker reports whether this node originated a query id.
type SeenChecker interface {
	Contains(id string) bool
}

package collector

import (
	"context"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// Subscriber opens subscriptions on the result topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (bus.Subscription, error)
}

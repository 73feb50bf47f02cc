package scatter

import (
	"context"

	"github.com/kailas-cloud/peerquery/internal/usecase/collector"
)

// Publisher sends broadcast queries to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) (string, error)
}

// WindowOpener opens a response collection window for a correlation id.
type WindowOpener interface {
	Open(ctx context.Context, id string) (*collector.Window, error)
}

// Executor answers a query on this node.
type Executor interface {
	Execute(ctx context.Context, text string) ([]string, error)
}

// SeenRecorder remembers ids this node originated.
type SeenRecorder interface {
	Put(id string)
}

package redis

import (
	"context"
	"strconv"

	"github.com/kailas-cloud/peerquery/internal/bus"
)

// Stream entry field names.
const (
	fieldKey     = "k"
	fieldPayload = "p"
)

// Publish appends a message to the topic stream (XADD MAXLEN ~ n *).
// It returns the entry id assigned by Redis.
func (b *Bus) Publish(ctx context.Context, topic, key string, payload []byte) (string, error) {
	cmd := b.b().Arbitrary("XADD").Keys(topic).Args(
		"MAXLEN", "~", strconv.FormatInt(b.cfg.MaxLen, 10),
		"*",
		fieldKey, key,
		fieldPayload, string(payload),
	).Build()

	id, err := b.do(ctx, cmd).ToString()
	if err != nil {
		return "", &bus.Error{Op: bus.OpPublish, Topic: topic, Err: err}
	}
	return id, nil
}

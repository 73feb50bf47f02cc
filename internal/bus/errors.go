package bus

import "errors"

// Sentinel errors for bus operations.
var (
	ErrClosed             = errors.New("bus: closed")
	ErrSubscriptionClosed = errors.New("bus: subscription closed")
)

// Op constants name the bus operation (Redis command where one applies) for error context.
const (
	OpPing      = "PING"
	OpPublish   = "XADD"
	OpSubscribe = "XREVRANGE"
	OpRead      = "XREAD"
)

// Error wraps an underlying error with the operation and topic for diagnostics.
type Error struct {
	Op    string
	Topic string
	Err   error
}

func (e *Error) Error() string {
	if e.Topic == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Topic + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

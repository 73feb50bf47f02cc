package scatter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Stage names the part of a scatter-gather query that failed.
type Stage string

const (
	StagePublish   Stage = "publish"
	StageSubscribe Stage = "subscribe"
	StageLocal     Stage = "local"
	StageCollect   Stage = "collect"
)

var (
	// ErrTransport signals a bus failure while publishing or collecting.
	ErrTransport = errors.New("transport failure")
	// ErrLocalExecution signals that this node could not answer the query.
	ErrLocalExecution = errors.New("local execution failed")
	// ErrInterrupted signals that the caller abandoned the query.
	ErrInterrupted = errors.New("query interrupted")
	// ErrInvalidQuery signals a query that cannot be carried on the wire.
	ErrInvalidQuery = errors.New("invalid query")
)

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("scatter %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage Stage, kind, cause error) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// combine returns nil, the single error, or a multierror listing every failure.
func combine(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	if len(merr.Errors) == 1 {
		return merr.Errors[0]
	}
	merr.ErrorFormat = func(es []error) string {
		msgs := make([]string, len(es))
		for i, e := range es {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return merr
}

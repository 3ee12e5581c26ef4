package pipeline

import (
	"errors"
	"fmt"
)

// ErrFaulted is the fault cause recorded when Fault is called with a nil error.
var ErrFaulted = errors.New("pipeline faulted")

// RejectedError reports a submission or offer refused because the pipeline
// has left the Running state. Recoverable: the caller may drop or redirect
// the entry.
type RejectedError struct {
	State State
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("pipeline not accepting entries (state %s)", e.State)
}

// ProcessingError wraps a failure returned by a sink's Log invocation.
// It is contained to its batch and does not affect the pipeline lifecycle
// unless the sink escalates with FatalError.
type ProcessingError struct {
	BatchSize int
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing batch of %d entries: %v", e.BatchSize, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// FatalError is returned by a sink's Log implementation to escalate a batch
// failure into a pipeline-wide fault. Plain errors are contained to the
// failed batch; a FatalError faults the whole pipeline.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal sink error: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// errBatcherClosed is internal: the batcher stopped accepting entries.
// The pipeline maps it to a RejectedError carrying the current state.
var errBatcherClosed = errors.New("batcher closed")

package batch

import (
	"errors"
	"fmt"
)

// ErrNoOutputs is the fatal condition of a batch where every document failed.
var ErrNoOutputs = errors.New("no documents were generated")

// RecordRenderError is one document that could not be produced. It is
// logged and counted; it never fails the batch on its own.
type RecordRenderError struct {
	Index int
	Name  string
	Err   error
}

func (e *RecordRenderError) Error() string {
	return fmt.Sprintf("document %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *RecordRenderError) Unwrap() error { return e.Err }

// BatchFatalError ends a job in the error state.
type BatchFatalError struct {
	JobID string
	Err   error
}

func (e *BatchFatalError) Error() string {
	return fmt.Sprintf("batch %s failed: %v", e.JobID, e.Err)
}

func (e *BatchFatalError) Unwrap() error { return e.Err }

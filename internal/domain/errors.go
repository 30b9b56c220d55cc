package domain

import (
	"fmt"
)

// DataError reports unusable input data: empty or too short series, non-finite
// values, degenerate statistics.
type DataError struct {
	Op     string
	Reason string
}

// NewDataError creates a DataError for the given operation
func NewDataError(op, reason string) *DataError {
	return &DataError{Op: op, Reason: reason}
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error in %s: %s", e.Op, e.Reason)
}

// ShapeError reports an input tensor whose shape disagrees with the model configuration.
type ShapeError struct {
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch: want %s, got %s", e.Want, e.Got)
}

// CheckpointError reports a failure to persist or load a model snapshot.
type CheckpointError struct {
	Op  string // "save", "load", "list", "encode", "decode"
	Key string
	Err error
}

func (e *CheckpointError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("checkpoint %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// TrainingDivergedError is returned when a batch loss becomes NaN or Inf.
type TrainingDivergedError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *TrainingDivergedError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d batch %d (loss=%v)", e.Epoch, e.Batch, e.Loss)
}

// ConvergenceWarning signals that training ran out of epochs before early stopping
// triggered. It is reported, never returned as a failure.
type ConvergenceWarning struct {
	Epochs int
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("training exhausted %d epochs without early stop", w.Epochs)
}

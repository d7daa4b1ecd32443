package bucketvision

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when starting a component twice.
	ErrAlreadyStarted = errors.New("already started")

	// ErrStopped is returned when waiting for a component to run, but it
	// stopped without ever running, eg because its device failed to open.
	ErrStopped = errors.New("stopped before running")
)

// DeviceOpenError indicates a capture device could not be acquired. The
// source that owns the device stays stopped and never delivers a frame.
type DeviceOpenError struct {
	Source string // Name of the source.
	Device string // Device identifier as configured.
	Err    error
}

// Error returns a human-readable description of the failure.
func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("source %s: opening device %q: %v", e.Source, e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

// DeviceConfigError indicates a device setting could not be applied. The
// previous value stays in effect.
type DeviceConfigError struct {
	Source   string
	Property string
	Value    float64
	Err      error
}

// Error returns a human-readable description of the failure.
func (e *DeviceConfigError) Error() string {
	return fmt.Sprintf("source %s: setting %s to %v: %v", e.Source, e.Property, e.Value, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceConfigError) Unwrap() error {
	return e.Err
}

// StageTransformFault indicates a pipeline stage failed on a frame, either
// by returning an error or by panicking. The runner keeps its previous
// result and continues with the next frame.
type StageTransformFault struct {
	Runner string
	Stage  string
	Seq    uint64      // Sequence number of the frame being transformed.
	Err    error       // Error returned by the stage, nil on panic.
	Panic  interface{} // Recovered panic value, nil on error.
}

// Error returns a human-readable description of the fault.
func (e *StageTransformFault) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("runner %s: stage %s panicked on frame %d: %v", e.Runner, e.Stage, e.Seq, e.Panic)
	}
	return fmt.Sprintf("runner %s: stage %s failed on frame %d: %v", e.Runner, e.Stage, e.Seq, e.Err)
}

// Unwrap returns the error returned by the stage, if any.
func (e *StageTransformFault) Unwrap() error {
	return e.Err
}

// Ensure the error types implement the error interface.
var (
	_ error = (*DeviceOpenError)(nil)
	_ error = (*DeviceConfigError)(nil)
	_ error = (*StageTransformFault)(nil)
)

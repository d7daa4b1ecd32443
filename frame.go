// Package bucketvision holds the types shared by the stages of the vision
// pipeline: frames, results, device configuration, lifecycle state and the
// error taxonomy.
//
// A pipeline is a bucket brigade. A capture.Source fills frames from a
// camera, a stage.Runner applies an analysis stage to the latest frame, and
// a display.Sink picks the latest result of the selected runner for display,
// recording and publication. Every hand-off is a single-slot cell that is
// overwritten, so a slow consumer loses frames instead of building latency.
package bucketvision

import (
	"fmt"
	"image"
	"time"
)

// Frame is one captured image. A Frame is never modified after it has been
// published by its source.
type Frame struct {
	Seq   uint64    // Strictly increasing per source, first frame is 1.
	Time  time.Time // Capture time.
	Image image.Image
}

// String returns a short description of the frame, without pixel data.
func (f *Frame) String() string {
	if f == nil {
		return "(no frame)"
	}
	var size image.Point
	if f.Image != nil {
		size = f.Image.Bounds().Size()
	}
	return fmt.Sprintf("frame %d, %dx%d, at %s", f.Seq, size.X, size.Y, f.Time.Format("15:04:05.000"))
}

// Result is the outcome of applying a pipeline stage to one frame.
type Result struct {
	// Annotated frame. Seq and Time are those of the input frame.
	Frame Frame

	// Name of the stage that produced the result.
	Stage string

	// Stage specific derived data, eg detected object coordinates. May be
	// nil.
	Data interface{}

	// How long the transform took.
	Took time.Duration
}

// Seq returns the sequence number of the input frame the result was
// computed from.
func (r *Result) Seq() uint64 {
	return r.Frame.Seq
}

// String returns a summary of the result.
func (r *Result) String() string {
	if r == nil {
		return "(no result)"
	}
	return fmt.Sprintf("%s on frame %d in %v", r.Stage, r.Frame.Seq, r.Took)
}

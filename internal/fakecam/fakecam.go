// Package fakecam provides an in-memory capture device for tests.
package fakecam

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/RocketRedNeck/BucketVision/capture"
)

// Device is a capture.Device producing solid gray images. The zero value
// produces a frame every millisecond.
type Device struct {
	OpenErr   error                      // Returned by Open.
	OpenDelay time.Duration              // Open blocks this long.
	SetErrs   map[capture.Property]error // Returned by Set for a property.
	Interval  time.Duration              // Time between frames, default 1ms.

	// Step, if set, makes Read deliver a frame only for a value received
	// on it. Without one within Interval, Read returns capture.ErrNoFrame.
	Step chan struct{}

	// NoFrames makes Read return capture.ErrNoFrame at once, like a camera
	// with no frame ready.
	NoFrames bool

	mu      sync.Mutex
	open    bool
	closed  bool
	n       uint8
	reads   uint64
	props   map[capture.Property]float64
	history []string
}

var _ capture.Device = (*Device)(nil)

// Open implements capture.Device.
func (d *Device) Open(id string) error {
	time.Sleep(d.OpenDelay)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, "open "+id)
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.open = true
	if d.props == nil {
		d.props = map[capture.Property]float64{}
	}
	return nil
}

// Get implements capture.Device.
func (d *Device) Get(p capture.Property) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, capture.ErrDeviceClosed
	}
	v, ok := d.props[p]
	if !ok {
		return 0, capture.ErrUnsupported
	}
	return v, nil
}

// Set implements capture.Device.
func (d *Device) Set(p capture.Property, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return capture.ErrDeviceClosed
	}
	if err := d.SetErrs[p]; err != nil {
		return err
	}
	d.props[p] = v
	return nil
}

// Prop returns the value last set for p.
func (d *Device) Prop(p capture.Property) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.props[p]
	return v, ok
}

// Read implements capture.Device.
func (d *Device) Read() (image.Image, error) {
	interval := d.Interval
	if interval == 0 {
		interval = time.Millisecond
	}
	d.mu.Lock()
	d.reads++
	d.mu.Unlock()

	switch {
	case d.NoFrames:
		return nil, capture.ErrNoFrame
	case d.Step != nil:
		select {
		case <-d.Step:
		case <-time.After(interval):
			return nil, capture.ErrNoFrame
		}
	default:
		time.Sleep(interval)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, capture.ErrDeviceClosed
	}
	d.n++
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = d.n
	}
	return img, nil
}

// Reads returns the number of calls to Read.
func (d *Device) Reads() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Close implements capture.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, "close")
	if !d.open {
		return errors.New("not open")
	}
	d.open = false
	d.closed = true
	return nil
}

// Closed returns whether the device was opened and closed again.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Gray returns the gray level of an image made by a Device.
func Gray(img image.Image) uint8 {
	return color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y
}

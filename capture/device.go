// Package capture implements frame sources: a capture loop per camera
// device, publishing the latest frame for the stage runners.
package capture

import (
	"errors"
	"image"
)

var (
	// ErrNoFrame is returned by Device.Read when no frame arrived in time.
	// It is not a failure, the capture loop retries quietly.
	ErrNoFrame = errors.New("no frame available")

	// ErrDeviceClosed is returned when using a device that is not open.
	ErrDeviceClosed = errors.New("device not open")

	// ErrUnsupported is returned by Get and Set for properties a driver
	// cannot control.
	ErrUnsupported = errors.New("property not supported by device")
)

// Property is a device setting.
type Property int

// Properties that can be read and set on a device.
const (
	Width Property = iota
	Height
	Exposure
	FrameRate
)

var propertyNames = [...]string{"Width", "Height", "Exposure", "FPS"}

// String returns the name of the property, also used as key in parameter
// stores.
func (p Property) String() string {
	if p < 0 || int(p) >= len(propertyNames) {
		return "Unknown"
	}
	return propertyNames[p]
}

// Device is a camera. A Device is used by a single Source, which serializes
// all calls.
type Device interface {
	// Open acquires the device identified by id, eg "0" or "/dev/video1".
	// Properties set before Open are applied by the source after Open.
	Open(id string) error

	// Get returns the current value of a property.
	Get(p Property) (float64, error)

	// Set changes a property. Drivers return ErrUnsupported for properties
	// they cannot change, and ErrDeviceClosed if not open.
	Set(p Property, v float64) error

	// Read blocks until the next frame is available and returns it. Each
	// call returns a new image that the caller may keep. Read returns
	// ErrNoFrame if nothing arrived within a driver specific timeout.
	Read() (image.Image, error)

	// Close releases the device.
	Close() error
}

// DeviceCap describes a capability of a device.
type DeviceCap struct {
	Type      string // "video/x-raw", "image/jpeg", etc.
	Width     int
	Height    int
	Framerate int
}

// DeviceInfo describes a camera found on the system.
type DeviceInfo struct {
	Name string
	ID   string
	Caps []DeviceCap
}

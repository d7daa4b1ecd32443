// Package cvcam implements a capture device with OpenCV's VideoCapture.
package cvcam

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/RocketRedNeck/BucketVision/capture"
)

var props = map[capture.Property]gocv.VideoCaptureProperties{
	capture.Width:     gocv.VideoCaptureFrameWidth,
	capture.Height:    gocv.VideoCaptureFrameHeight,
	capture.Exposure:  gocv.VideoCaptureExposure,
	capture.FrameRate: gocv.VideoCaptureFPS,
}

// Device is a camera opened by OpenCV. The id passed to Open is a camera
// index, a device path, or a video file or stream URL.
type Device struct {
	cam *gocv.VideoCapture
	mat gocv.Mat
}

var _ capture.Device = (*Device)(nil)

// NewDevice returns an unopened device.
func NewDevice() *Device {
	return &Device{}
}

// Open implements capture.Device.
func (d *Device) Open(id string) error {
	if d.cam != nil {
		return fmt.Errorf("already open")
	}
	var src interface{} = id
	if n, err := strconv.Atoi(id); err == nil {
		src = n
	}
	cam, err := gocv.OpenVideoCapture(src)
	if err != nil {
		return err
	}
	if !cam.IsOpened() {
		cam.Close()
		return fmt.Errorf("opencv cannot open %q", id)
	}
	d.cam = cam
	d.mat = gocv.NewMat()
	return nil
}

// Get implements capture.Device.
func (d *Device) Get(p capture.Property) (float64, error) {
	if d.cam == nil {
		return 0, capture.ErrDeviceClosed
	}
	cp, ok := props[p]
	if !ok {
		return 0, capture.ErrUnsupported
	}
	return d.cam.Get(cp), nil
}

// Set implements capture.Device. OpenCV does not report failures, so sizes
// are read back and a mismatch is an error.
func (d *Device) Set(p capture.Property, v float64) error {
	if d.cam == nil {
		return capture.ErrDeviceClosed
	}
	cp, ok := props[p]
	if !ok {
		return capture.ErrUnsupported
	}
	d.cam.Set(cp, v)
	if p == capture.Width || p == capture.Height {
		if got := d.cam.Get(cp); math.Abs(got-v) >= 1 {
			return fmt.Errorf("camera kept %s at %v", p, got)
		}
	}
	return nil
}

// Read implements capture.Device.
func (d *Device) Read() (image.Image, error) {
	if d.cam == nil {
		return nil, capture.ErrDeviceClosed
	}
	if !d.cam.Read(&d.mat) {
		return nil, fmt.Errorf("cannot read frame")
	}
	if d.mat.Empty() {
		return nil, capture.ErrNoFrame
	}
	return d.mat.ToImage()
}

// Close implements capture.Device.
func (d *Device) Close() error {
	if d.cam == nil {
		return nil
	}
	err := d.cam.Close()
	d.mat.Close()
	d.cam = nil
	return err
}

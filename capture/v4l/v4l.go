// Package v4l implements a capture device using V4L2 directly, streaming
// MJPEG from the camera.
package v4l

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/v4l2ctl"
)

// Device is a V4L2 camera. Exposure is controlled with v4l2-ctl. Changing
// the size or frame rate reopens the camera.
type Device struct {
	timeout time.Duration

	path          string
	width, height int
	fps           int
	dev           *device.Device
	cancel        context.CancelFunc
}

var _ capture.Device = (*Device)(nil)

// NewDevice returns an unopened device. Read waits up to timeout for a
// frame, default 100ms.
func NewDevice(timeout time.Duration) *Device {
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	return &Device{timeout: timeout, width: 640, height: 480, fps: 30}
}

func (d *Device) start() error {
	dev, err := device.Open(
		d.path,
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(d.width),
			Height:      uint32(d.height),
			Field:       v4l2.FieldNone,
		}),
		device.WithFPS(uint32(d.fps)),
	)
	if err != nil {
		return fmt.Errorf("opening %s: %v", d.path, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(ctx); err != nil {
		cancel()
		dev.Close()
		return fmt.Errorf("starting stream on %s: %v", d.path, err)
	}
	d.dev = dev
	d.cancel = cancel
	return nil
}

func (d *Device) stop() error {
	if d.dev == nil {
		return nil
	}
	d.cancel()
	err := d.dev.Close()
	d.dev = nil
	return err
}

// Open implements capture.Device.
func (d *Device) Open(id string) error {
	if d.dev != nil {
		return fmt.Errorf("already open")
	}
	d.path = v4l2ctl.DevicePath(id)
	return d.start()
}

// Get implements capture.Device.
func (d *Device) Get(p capture.Property) (float64, error) {
	if d.dev == nil {
		return 0, capture.ErrDeviceClosed
	}
	switch p {
	case capture.Width, capture.Height:
		pf, err := d.dev.GetPixFormat()
		if err != nil {
			return 0, err
		}
		if p == capture.Width {
			return float64(pf.Width), nil
		}
		return float64(pf.Height), nil
	case capture.FrameRate:
		fps, err := d.dev.GetFrameRate()
		return float64(fps), err
	case capture.Exposure:
		v, err := v4l2ctl.GetExposure(d.path)
		return float64(v), err
	}
	return 0, capture.ErrUnsupported
}

// Set implements capture.Device.
func (d *Device) Set(p capture.Property, v float64) error {
	if d.dev == nil {
		return capture.ErrDeviceClosed
	}
	width, height, fps := d.width, d.height, d.fps
	switch p {
	case capture.Width:
		width = int(v)
	case capture.Height:
		height = int(v)
	case capture.FrameRate:
		fps = int(v)
	case capture.Exposure:
		return v4l2ctl.SetExposure(d.path, int(v))
	default:
		return capture.ErrUnsupported
	}
	if width == d.width && height == d.height && fps == d.fps {
		return nil
	}
	if width <= 0 || height <= 0 || fps <= 0 {
		return fmt.Errorf("invalid settings %dx%d@%d", width, height, fps)
	}

	oldWidth, oldHeight, oldFPS := d.width, d.height, d.fps
	d.stop()
	d.width, d.height, d.fps = width, height, fps
	err := d.start()
	if err != nil {
		d.width, d.height, d.fps = oldWidth, oldHeight, oldFPS
		if rerr := d.start(); rerr != nil {
			return fmt.Errorf("reopening %s: %v (after %v)", d.path, rerr, err)
		}
	}
	return err
}

// Read implements capture.Device.
func (d *Device) Read() (image.Image, error) {
	if d.dev == nil {
		return nil, capture.ErrDeviceClosed
	}
	t := time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case buf, ok := <-d.dev.GetOutput():
		if !ok {
			return nil, fmt.Errorf("stream on %s ended", d.path)
		}
		if len(buf) == 0 {
			return nil, capture.ErrNoFrame
		}
		img, err := imaging.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("decoding mjpeg frame: %v", err)
		}
		return img, nil
	case <-t.C:
		return nil, capture.ErrNoFrame
	}
}

// Close implements capture.Device.
func (d *Device) Close() error {
	return d.stop()
}

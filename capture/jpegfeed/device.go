package jpegfeed

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/capture"
)

// Settings are the capture settings passed to a command.
type Settings struct {
	Width, Height, FPS int
}

// DeviceOpts describe how a Device runs its capture process.
type DeviceOpts struct {
	Command     string // Executable, eg "ffmpeg".
	InstallHint string

	// Args returns the arguments for capturing from device id into dir.
	Args func(id string, s Settings, dir string) []string

	// Properties the command cannot change. Setting them returns
	// capture.ErrUnsupported.
	Unsupported []capture.Property

	// Optional exposure control, eg v4l2ctl.SetExposure. Without it setting
	// the exposure returns capture.ErrUnsupported.
	SetExposure func(id string, v int) error
	GetExposure func(id string) (int, error)

	Timeout time.Duration // See Opts.
	Logger  *zerolog.Logger
}

// Device is a capture.Device that runs an external process. Changing the
// size or frame rate restarts the process.
type Device struct {
	opts DeviceOpts

	mu   sync.Mutex
	id   string
	s    Settings
	proc *Process
}

var _ capture.Device = (*Device)(nil)

// NewDevice returns a device, capturing once opened.
func NewDevice(opts DeviceOpts) *Device {
	return &Device{
		opts: opts,
		s:    Settings{Width: 640, Height: 480, FPS: 30},
	}
}

func (d *Device) start() error {
	id, s := d.id, d.s
	p, err := StartProcess(d.opts.Command, func(dir string) []string {
		return d.opts.Args(id, s, dir)
	}, &ProcessOpts{
		MinInterval: time.Second / time.Duration(max(s.FPS, 1)),
		Timeout:     d.opts.Timeout,
		InstallHint: d.opts.InstallHint,
		Logger:      d.opts.Logger,
	})
	if err != nil {
		return err
	}
	d.proc = p
	return nil
}

// Open implements capture.Device.
func (d *Device) Open(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != nil {
		return fmt.Errorf("already open")
	}
	d.id = id
	return d.start()
}

func (d *Device) unsupported(p capture.Property) bool {
	for _, u := range d.opts.Unsupported {
		if u == p {
			return true
		}
	}
	return false
}

// Get implements capture.Device.
func (d *Device) Get(p capture.Property) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return 0, capture.ErrDeviceClosed
	}
	switch p {
	case capture.Width:
		return float64(d.s.Width), nil
	case capture.Height:
		return float64(d.s.Height), nil
	case capture.FrameRate:
		return float64(d.s.FPS), nil
	case capture.Exposure:
		if d.opts.GetExposure == nil {
			return 0, capture.ErrUnsupported
		}
		v, err := d.opts.GetExposure(d.id)
		return float64(v), err
	}
	return 0, capture.ErrUnsupported
}

// Set implements capture.Device.
func (d *Device) Set(p capture.Property, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return capture.ErrDeviceClosed
	}
	if d.unsupported(p) {
		return capture.ErrUnsupported
	}

	s := d.s
	switch p {
	case capture.Width:
		s.Width = int(v)
	case capture.Height:
		s.Height = int(v)
	case capture.FrameRate:
		s.FPS = int(v)
	case capture.Exposure:
		if d.opts.SetExposure == nil {
			return capture.ErrUnsupported
		}
		return d.opts.SetExposure(d.id, int(v))
	default:
		return capture.ErrUnsupported
	}
	if s == d.s {
		return nil
	}
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 {
		return fmt.Errorf("invalid settings %dx%d@%d", s.Width, s.Height, s.FPS)
	}

	// Restart with the new settings, or go back to the old ones.
	old := d.s
	d.proc.Close()
	d.proc = nil
	d.s = s
	err := d.start()
	if err != nil {
		d.s = old
		if rerr := d.start(); rerr != nil {
			return fmt.Errorf("restarting %s: %v (after %v)", d.opts.Command, rerr, err)
		}
	}
	return err
}

// Read implements capture.Device.
func (d *Device) Read() (image.Image, error) {
	d.mu.Lock()
	p := d.proc
	d.mu.Unlock()
	if p == nil {
		return nil, capture.ErrDeviceClosed
	}
	return p.Next()
}

// Close implements capture.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return nil
	}
	err := d.proc.Close()
	d.proc = nil
	return err
}

package capture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
	"github.com/RocketRedNeck/BucketVision/paramstore"
)

// SourceOpts are options for a new source.
type SourceOpts struct {
	Name     string                    // Name of the source, eg "frontCam".
	DeviceID string                    // Passed to Device.Open.
	Config   bucketvision.DeviceConfig // Initial configuration. Zero fields get defaults.

	// Optional store to mirror the configuration to. An "Exposure" value in
	// the store overrides the configured exposure while running.
	Store paramstore.Store

	// Backoff after a failed read, default 10ms.
	ReadBackoff time.Duration

	// Wait after a read that found no frame ready, default 1ms.
	IdlePoll time.Duration

	Logger *zerolog.Logger
}

// SourceStatus is a snapshot of a source's state.
type SourceStatus struct {
	State  bucketvision.State
	Err    error  // Why the device could not be opened, if so.
	Frames uint64 // Frames captured.
	Fails  uint64 // Failed reads.
	FPS    float64
	Config bucketvision.DeviceConfig
}

// Source runs the capture loop for one device. The latest frame is held in a
// single slot that is replaced, never modified, on each capture.
type Source struct {
	name     string
	deviceID string
	backoff  time.Duration
	idle     time.Duration
	store    paramstore.Store
	log      zerolog.Logger
	life     bucketvision.Lifecycle
	rate     *bucketvision.FrameRate

	// devMu serializes device access between the capture loop and the
	// setters. cfg and open are protected by it too.
	devMu sync.Mutex
	dev   Device
	open  bool
	cfg   bucketvision.DeviceConfig

	latest  atomic.Pointer[bucketvision.Frame]
	taken   atomic.Uint64 // Seq of the last frame returned by TryTakeLatest.
	fails   atomic.Uint64
	openErr atomic.Pointer[bucketvision.DeviceOpenError]
}

// NewSource returns a source capturing from dev. The device is opened by
// Start.
func NewSource(dev Device, opts SourceOpts) *Source {
	if opts.Name == "" {
		opts.Name = "camera" + opts.DeviceID
	}
	if opts.ReadBackoff == 0 {
		opts.ReadBackoff = 10 * time.Millisecond
	}
	if opts.IdlePoll == 0 {
		opts.IdlePoll = time.Millisecond
	}
	rate, _ := bucketvision.NewFrameRate(30)
	return &Source{
		name:     opts.Name,
		deviceID: opts.DeviceID,
		backoff:  opts.ReadBackoff,
		idle:     opts.IdlePoll,
		store:    opts.Store,
		log:      logging.Component(opts.Logger, "source", opts.Name),
		rate:     rate,
		dev:      dev,
		cfg:      opts.Config.WithDefaults(),
	}
}

// Name returns the name of the source.
func (s *Source) Name() string {
	return s.name
}

// Lifecycle returns the lifecycle of the capture loop, for waiting on it.
func (s *Source) Lifecycle() *bucketvision.Lifecycle {
	return &s.life
}

// IsStopped returns whether the capture loop has exited.
func (s *Source) IsStopped() bool {
	return s.life.IsStopped()
}

// Start opens the device on the capture goroutine, applies the configuration
// and starts capturing. If the device cannot be opened the source stops
// without delivering frames, and Status reports the DeviceOpenError.
func (s *Source) Start() error {
	if err := s.life.Begin(); err != nil {
		return fmt.Errorf("source %s: %w", s.name, err)
	}
	go s.run()
	return nil
}

// Stop asks the capture loop to exit. The device is closed before the source
// reports Stopped.
func (s *Source) Stop() {
	s.life.RequestStop()
}

func (s *Source) run() {
	defer s.life.MarkStopped()

	if err := s.openDevice(); err != nil {
		s.openErr.Store(err)
		s.log.Error().Err(err.Err).Str("device", s.deviceID).Msg("failed to open camera")
		paramstore.Put(s.store, "Status", fmt.Sprintf("Failed to open camera %s!", s.deviceID))
		return
	}
	defer s.closeDevice()

	paramstore.Put(s.store, "Status", "Running")
	s.life.MarkRunning()
	s.log.Info().Str("device", s.deviceID).Stringer("config", s.Config()).Msg("capturing")

	var seq uint64
	tried := s.Config().Exposure
	for !s.life.StopRequested() {
		tried = s.reconcileExposure(tried)

		s.devMu.Lock()
		img, err := s.dev.Read()
		s.devMu.Unlock()
		if errors.Is(err, ErrNoFrame) || (err == nil && img == nil) {
			time.Sleep(s.idle)
			continue
		}
		if err != nil {
			n := s.fails.Add(1)
			if n == 1 || n%100 == 0 {
				s.log.Warn().Err(err).Uint64("fails", n).Msg("reading frame")
			}
			time.Sleep(s.backoff)
			continue
		}

		now := time.Now()
		seq++
		s.latest.Store(&bucketvision.Frame{Seq: seq, Time: now, Image: img})
		s.rate.Tick(now)
	}
	s.log.Info().Uint64("frames", seq).Msg("capture stopped")
}

func (s *Source) openDevice() *bucketvision.DeviceOpenError {
	// An exposure in the store takes precedence over the configured one. The
	// store may be remote, it is not queried under the device lock.
	stored, haveStored := paramstore.LookupInt(s.store, Exposure.String(), s.log)

	s.devMu.Lock()
	defer s.devMu.Unlock()
	if err := s.dev.Open(s.deviceID); err != nil {
		return &bucketvision.DeviceOpenError{Source: s.name, Device: s.deviceID, Err: err}
	}
	s.open = true

	// Apply the initial configuration. Failures leave the driver default.
	if haveStored {
		s.cfg.Exposure = stored
	}
	want := s.cfg
	for _, p := range []Property{Width, Height, FrameRate, Exposure} {
		v := configValue(want, p)
		if err := s.dev.Set(p, float64(v)); err != nil {
			s.log.Warn().Err(err).Stringer("property", p).Int("value", v).Msg("applying initial configuration")
			if got, gerr := s.dev.Get(p); gerr == nil {
				setConfigValue(&s.cfg, p, int(got))
			}
			continue
		}
		paramstore.PutInt(s.store, p.String(), v)
	}
	return nil
}

func (s *Source) closeDevice() {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	s.open = false
	if err := s.dev.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing device")
	}
	paramstore.Put(s.store, "Status", "Stopped")
}

// reconcileExposure applies an exposure override from the store. A value
// that failed to apply is not retried until it changes.
func (s *Source) reconcileExposure(tried int) int {
	v, ok := paramstore.LookupInt(s.store, Exposure.String(), s.log)
	if !ok || v == tried {
		return tried
	}
	if s.Config().Exposure != v {
		s.log.Debug().Int("exposure", v).Msg("exposure override from parameter store")
		s.SetExposure(v)
	}
	return v
}

// TryTakeLatest returns the latest frame if it was not returned by a
// previous call. A slow caller misses frames, a fast caller gets false until
// the next capture. Intended for a single consumer.
func (s *Source) TryTakeLatest() (*bucketvision.Frame, bool) {
	for {
		f := s.latest.Load()
		if f == nil {
			return nil, false
		}
		taken := s.taken.Load()
		if f.Seq <= taken {
			return nil, false
		}
		if s.taken.CompareAndSwap(taken, f.Seq) {
			return f, true
		}
	}
}

// Latest returns the latest frame, if any, without consuming it.
func (s *Source) Latest() (*bucketvision.Frame, bool) {
	f := s.latest.Load()
	return f, f != nil
}

// Status returns a snapshot of the source's state.
func (s *Source) Status() SourceStatus {
	st := SourceStatus{
		State:  s.life.State(),
		Frames: s.rate.Count(),
		Fails:  s.fails.Load(),
		FPS:    s.rate.FPS(),
		Config: s.Config(),
	}
	if err := s.openErr.Load(); err != nil {
		st.Err = err
	}
	return st
}

// Config returns the configuration in effect.
func (s *Source) Config() bucketvision.DeviceConfig {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	return s.cfg
}

// SetConfig applies all fields of cfg that differ from the configuration in
// effect. The first failure is returned, later fields are still attempted.
func (s *Source) SetConfig(cfg bucketvision.DeviceConfig) error {
	cur := s.Config()
	var first error
	for _, p := range []Property{Width, Height, FrameRate, Exposure} {
		v := configValue(cfg, p)
		if v == configValue(cur, p) {
			continue
		}
		if err := s.set(p, v); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SetWidth changes the capture width.
func (s *Source) SetWidth(v int) error { return s.set(Width, v) }

// SetHeight changes the capture height.
func (s *Source) SetHeight(v int) error { return s.set(Height, v) }

// SetExposure changes the exposure.
func (s *Source) SetExposure(v int) error { return s.set(Exposure, v) }

// SetFPS changes the target frame rate.
func (s *Source) SetFPS(v int) error { return s.set(FrameRate, v) }

// set applies one property under the device lock. Before Start the value is
// only recorded, and applied when the device is opened. On failure the
// previous value stays in effect and a DeviceConfigError is returned and
// logged.
func (s *Source) set(p Property, v int) error {
	s.devMu.Lock()
	var err error
	switch {
	case s.life.State() == bucketvision.Created:
		setConfigValue(&s.cfg, p, v)
		s.devMu.Unlock()
		return nil
	case !s.open:
		err = ErrDeviceClosed
	default:
		err = s.dev.Set(p, float64(v))
	}
	if err == nil {
		setConfigValue(&s.cfg, p, v)
	}
	s.devMu.Unlock()

	if err != nil {
		cerr := &bucketvision.DeviceConfigError{Source: s.name, Property: p.String(), Value: float64(v), Err: err}
		s.log.Warn().Err(err).Stringer("property", p).Int("value", v).Msg("device setting not applied")
		return cerr
	}
	if perr := paramstore.Put(s.store, p.String(), strconv.Itoa(v)); perr != nil {
		s.log.Debug().Err(perr).Stringer("property", p).Msg("mirroring setting to parameter store")
	}
	s.log.Debug().Stringer("property", p).Int("value", v).Msg("device setting applied")
	return nil
}

func configValue(c bucketvision.DeviceConfig, p Property) int {
	switch p {
	case Width:
		return c.Width
	case Height:
		return c.Height
	case Exposure:
		return c.Exposure
	case FrameRate:
		return c.FPS
	}
	return 0
}

func setConfigValue(c *bucketvision.DeviceConfig, p Property, v int) {
	switch p {
	case Width:
		c.Width = v
	case Height:
		c.Height = v
	case Exposure:
		c.Exposure = v
	case FrameRate:
		c.FPS = v
	}
}

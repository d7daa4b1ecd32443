// Package brigade wires sources, runners and the display sink into a
// running pipeline: it starts and stops them in order, and runs the operator
// loop that renders, records, publishes and dispatches key commands.
package brigade

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/display"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
	"github.com/RocketRedNeck/BucketVision/render"
	"github.com/RocketRedNeck/BucketVision/stage"
)

var (
	// ErrStartTimeout is returned when a component neither runs nor stops
	// within the start timeout.
	ErrStartTimeout = errors.New("component did not start in time")

	// ErrStopTimeout is returned when a component does not stop within the
	// stop timeout.
	ErrStopTimeout = errors.New("component did not stop in time")
)

// Recorder appends frames to a recording.
type Recorder interface {
	Write(img image.Image) error
}

// Publisher streams frames to a remote viewer.
type Publisher interface {
	Publish(img image.Image) error
}

// Camera is a source and the runner processing its frames. Name is also the
// display mode showing the runner's results.
type Camera struct {
	Name   string
	Source *capture.Source
	Runner *stage.Runner
}

// Opts are options for an orchestrator.
type Opts struct {
	Renderer  render.Target // Required.
	Recorder  Recorder      // Optional, recording is unavailable without.
	Publisher Publisher     // Optional, streaming is unavailable without.

	// Start recording or streaming right away.
	Record, Stream bool

	StartTimeout time.Duration // Per start phase, default 5s.
	StopTimeout  time.Duration // Per stop phase, default 5s.

	// How long the loop waits for a key, default 1ms.
	KeyTimeout time.Duration

	// How often frame rates are logged, default 5s. Negative disables.
	StatusInterval time.Duration

	Logger *zerolog.Logger
}

// Orchestrator runs a pipeline.
type Orchestrator struct {
	cams []Camera
	sink *display.Sink
	opts Opts
	log  zerolog.Logger

	// Operator state, only used from the Run goroutine.
	record, stream bool
	lastCount      uint64
	shown          uint64
	published      uint64
	recorded       uint64
}

// New returns an orchestrator for cams, shown through sink. The sink's
// modes are the camera names.
func New(cams []Camera, sink *display.Sink, opts Opts) (*Orchestrator, error) {
	if len(cams) == 0 {
		return nil, fmt.Errorf("no cameras")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("no renderer")
	}
	if opts.StartTimeout == 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.KeyTimeout == 0 {
		opts.KeyTimeout = time.Millisecond
	}
	if opts.StatusInterval == 0 {
		opts.StatusInterval = 5 * time.Second
	}
	o := &Orchestrator{
		cams:   cams,
		sink:   sink,
		opts:   opts,
		log:    logging.Component(opts.Logger, "brigade", ""),
		record: opts.Record && opts.Recorder != nil,
		stream: opts.Stream && opts.Publisher != nil,
	}
	return o, nil
}

type component interface {
	Start() error
	Lifecycle() *bucketvision.Lifecycle
}

// startPhase starts comps and waits until each runs or stopped. Components
// that stopped without running are logged and left alone.
func (o *Orchestrator) startPhase(ctx context.Context, phase string, names []string, comps []component) error {
	for i, c := range comps {
		if err := c.Start(); err != nil {
			return fmt.Errorf("starting %s %s: %w", phase, names[i], err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.StartTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range comps {
		name, c := names[i], c
		g.Go(func() error {
			err := c.Lifecycle().WaitRunning(gctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, bucketvision.ErrStopped):
				o.log.Warn().Str(phase, name).Msg("stopped without running, its feed stays frozen")
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				return fmt.Errorf("%w: %s %s after %v", ErrStartTimeout, phase, name, o.opts.StartTimeout)
			default:
				return fmt.Errorf("waiting for %s %s: %w", phase, name, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	o.log.Info().Strs(phase+"s", names).Msg("running")
	return nil
}

// Start starts the sources, then the runners, then the display sink. On
// error, everything started is stopped again.
func (o *Orchestrator) Start(ctx context.Context) (rerr error) {
	defer func() {
		if rerr != nil {
			if err := o.Stop(context.Background()); err != nil {
				o.log.Warn().Err(err).Msg("stopping after failed start")
			}
		}
	}()

	var names []string
	var sources, runners []component
	for _, c := range o.cams {
		names = append(names, c.Name)
		sources = append(sources, c.Source)
		runners = append(runners, c.Runner)
	}
	if err := o.startPhase(ctx, "source", names, sources); err != nil {
		return err
	}
	if err := o.startPhase(ctx, "runner", names, runners); err != nil {
		return err
	}
	return o.startPhase(ctx, "display", []string{"display"}, []component{o.sink})
}

type stopper interface {
	Stop()
	Lifecycle() *bucketvision.Lifecycle
}

func (o *Orchestrator) stopPhase(ctx context.Context, phase string, names []string, comps []stopper) error {
	for _, c := range comps {
		c.Stop()
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.StopTimeout)
	defer cancel()
	var first error
	for i, c := range comps {
		if err := c.Lifecycle().WaitStopped(ctx); err != nil {
			o.log.Error().Str(phase, names[i]).Msg("did not stop")
			if first == nil {
				first = fmt.Errorf("%w: %s %s", ErrStopTimeout, phase, names[i])
			}
		}
	}
	return first
}

// Stop stops the runners, then the display sink, then the sources, waiting
// for each phase. A phase that times out does not keep the later phases
// from being stopped, the first timeout is returned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var names []string
	var sources, runners []stopper
	for _, c := range o.cams {
		names = append(names, c.Name)
		sources = append(sources, c.Source)
		runners = append(runners, c.Runner)
	}
	var first error
	for _, p := range []struct {
		phase string
		names []string
		comps []stopper
	}{
		{"runner", names, runners},
		{"display", []string{"display"}, []stopper{o.sink}},
		{"source", names, sources},
	} {
		if err := o.stopPhase(ctx, p.phase, p.names, p.comps); err != nil && first == nil {
			first = err
		}
	}
	if first == nil {
		o.log.Info().Msg("all stopped")
	}
	return first
}

// Run runs the operator loop until the operator quits, or ctx is done. Each
// frame shown by the sink is rendered, and recorded and published if those
// are on, once.
func (o *Orchestrator) Run(ctx context.Context) error {
	var statusC <-chan time.Time
	if o.opts.StatusInterval > 0 {
		t := time.NewTicker(o.opts.StatusInterval)
		defer t.Stop()
		statusC = t.C
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.step()

		if k, ok := o.opts.Renderer.PollKey(o.opts.KeyTimeout); ok {
			if quit := o.handleKey(k); quit {
				o.log.Info().Msg("quit by operator")
				return nil
			}
		}

		select {
		case <-statusC:
			o.logStatus()
		default:
		}
	}
}

// step handles a new frame of the sink, if any.
func (o *Orchestrator) step() {
	sh, ok := o.sink.Latest()
	if !ok || sh.Count == o.lastCount {
		return
	}
	o.lastCount = sh.Count
	img := sh.Result.Frame.Image

	if o.stream {
		if err := o.opts.Publisher.Publish(img); err != nil {
			o.log.Warn().Err(err).Msg("publishing frame")
		} else {
			o.published++
		}
	}
	if o.record {
		if err := o.opts.Recorder.Write(img); err != nil {
			o.log.Warn().Err(err).Msg("recording frame")
		} else {
			o.recorded++
		}
	}
	if err := o.opts.Renderer.Show(img); err != nil {
		o.log.Warn().Err(err).Msg("showing frame")
	}
	o.shown++
}

// handleKey dispatches an operator key, returning whether to quit.
func (o *Orchestrator) handleKey(k rune) bool {
	switch {
	case k == 'q' || k == 27:
		return true
	case k == 'r':
		if o.opts.Recorder == nil {
			o.log.Warn().Msg("no recorder, cannot record")
			return false
		}
		o.record = !o.record
		o.log.Info().Bool("recording", o.record).Msg("recording toggled")
	case k == 't':
		if o.opts.Publisher == nil {
			o.log.Warn().Msg("no publisher, cannot stream")
			return false
		}
		o.stream = !o.stream
		o.log.Info().Bool("streaming", o.stream).Msg("streaming toggled")
	case k >= '0' && k <= '9':
		i := int(k - '0')
		if i >= len(o.cams) {
			o.log.Debug().Int("mode", i).Msg("no camera for mode key")
			return false
		}
		if err := o.sink.SetMode(o.cams[i].Name); err != nil {
			o.log.Warn().Err(err).Msg("selecting display mode")
		}
	default:
		cam := o.selected()
		if cam == nil || !cam.Source.ProcessUserCommand(k) {
			o.log.Debug().Str("key", string(k)).Msg("key ignored")
		}
	}
	return false
}

func (o *Orchestrator) selected() *Camera {
	mode := o.sink.Mode()
	for i := range o.cams {
		if o.cams[i].Name == mode {
			return &o.cams[i]
		}
	}
	return nil
}

// Recording returns whether frames are being recorded.
func (o *Orchestrator) Recording() bool {
	return o.record
}

// Streaming returns whether frames are being published.
func (o *Orchestrator) Streaming() bool {
	return o.stream
}

// Stats returns the number of frames shown, published and recorded by Run.
func (o *Orchestrator) Stats() (shown, published, recorded uint64) {
	return o.shown, o.published, o.recorded
}

func (o *Orchestrator) logStatus() {
	for _, c := range o.cams {
		ss := c.Source.Status()
		rs := c.Runner.Status()
		o.log.Info().
			Str("camera", c.Name).
			Str("source", ss.State.String()).
			Float64("captureFPS", ss.FPS).
			Str("stage", rs.Stage).
			Float64("processFPS", rs.FPS).
			Uint64("faults", rs.Faults).
			Msg("status")
	}
	o.log.Info().Str("mode", o.sink.Mode()).Float64("displayFPS", o.sink.FPS()).Bool("recording", o.record).Bool("streaming", o.stream).Msg("display status")
}

package stage

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// FrameTaker is where a runner gets frames, typically a capture.Source.
type FrameTaker interface {
	// TryTakeLatest returns the latest frame if it was not taken before.
	TryTakeLatest() (*bucketvision.Frame, bool)
}

// RunnerOpts are options for a new runner.
type RunnerOpts struct {
	Name string

	// How long to sleep when no new frame is available, default 500µs.
	IdlePoll time.Duration

	Logger *zerolog.Logger
}

// RunnerStatus is a snapshot of a runner's state.
type RunnerStatus struct {
	State     bucketvision.State
	Stage     string
	Results   uint64
	FPS       float64
	Faults    uint64
	LastFault *bucketvision.StageTransformFault
}

type active struct {
	name  string
	stage Stage
}

// Runner applies the active stage of its set to each new frame of a source.
type Runner struct {
	name string
	src  FrameTaker
	set  *Set
	idle time.Duration
	log  zerolog.Logger
	life bucketvision.Lifecycle
	rate *bucketvision.FrameRate

	active    atomic.Pointer[active]
	latest    atomic.Pointer[bucketvision.Result]
	taken     atomic.Uint64
	faults    atomic.Uint64
	lastFault atomic.Pointer[bucketvision.StageTransformFault]
}

// NewRunner returns a runner taking frames from src and transforming them
// with stage initial of set. The set and its stage instances are bound to
// the runner and cannot be given to another, even through a different set.
func NewRunner(src FrameTaker, set *Set, initial string, opts *RunnerOpts) (*Runner, error) {
	var xopts RunnerOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.IdlePoll == 0 {
		xopts.IdlePoll = 500 * time.Microsecond
	}

	st, ok := set.Get(initial)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, initial)
	}
	if err := set.claim(); err != nil {
		return nil, err
	}

	rate, _ := bucketvision.NewFrameRate(30)
	r := &Runner{
		name: xopts.Name,
		src:  src,
		set:  set,
		idle: xopts.IdlePoll,
		log:  logging.Component(xopts.Logger, "runner", xopts.Name),
		rate: rate,
	}
	r.active.Store(&active{initial, st})
	return r, nil
}

// Name returns the name of the runner.
func (r *Runner) Name() string {
	return r.name
}

// Lifecycle returns the lifecycle of the process loop.
func (r *Runner) Lifecycle() *bucketvision.Lifecycle {
	return &r.life
}

// IsStopped returns whether the process loop has exited.
func (r *Runner) IsStopped() bool {
	return r.life.IsStopped()
}

// Start starts the process loop.
func (r *Runner) Start() error {
	if err := r.life.Begin(); err != nil {
		return fmt.Errorf("runner %s: %w", r.name, err)
	}
	go r.run()
	return nil
}

// Stop asks the process loop to exit.
func (r *Runner) Stop() {
	r.life.RequestStop()
}

func (r *Runner) run() {
	defer r.life.MarkStopped()
	r.life.MarkRunning()
	r.log.Info().Str("stage", r.Active()).Msg("processing")

	for !r.life.StopRequested() {
		f, ok := r.src.TryTakeLatest()
		if !ok {
			time.Sleep(r.idle)
			continue
		}

		// Load once, a switch takes effect on the next frame.
		a := r.active.Load()
		res, err := r.transform(a, f)
		if err != nil {
			n := r.faults.Add(1)
			r.lastFault.Store(err)
			if n == 1 || n%100 == 0 {
				r.log.Warn().Err(err).Uint64("faults", n).Msg("stage fault, keeping previous result")
			}
			continue
		}
		r.latest.Store(res)
		r.rate.Tick(time.Now())
	}
	r.log.Info().Uint64("results", r.rate.Count()).Uint64("faults", r.faults.Load()).Msg("processing stopped")
}

// transform applies a to f, turning an error or panic into a fault.
func (r *Runner) transform(a *active, f *bucketvision.Frame) (res *bucketvision.Result, fault *bucketvision.StageTransformFault) {
	defer func() {
		if x := recover(); x != nil {
			res = nil
			fault = &bucketvision.StageTransformFault{Runner: r.name, Stage: a.name, Seq: f.Seq, Panic: x}
		}
	}()

	t0 := time.Now()
	out, err := a.stage.Transform(f)
	if err != nil {
		return nil, &bucketvision.StageTransformFault{Runner: r.name, Stage: a.name, Seq: f.Seq, Err: err}
	}
	img := out.Image
	if img == nil {
		img = f.Image
	}
	return &bucketvision.Result{
		Frame: bucketvision.Frame{Seq: f.Seq, Time: f.Time, Image: img},
		Stage: a.name,
		Data:  out.Data,
		Took:  time.Since(t0),
	}, nil
}

// SelectStage makes stage name active from the next frame on.
func (r *Runner) SelectStage(name string) error {
	st, ok := r.set.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	old := r.active.Swap(&active{name, st})
	if old.name != name {
		r.log.Info().Str("from", old.name).Str("to", name).Msg("stage selected")
	}
	return nil
}

// Active returns the name of the active stage.
func (r *Runner) Active() string {
	return r.active.Load().name
}

// Stages returns the names of the stages of the runner's set.
func (r *Runner) Stages() []string {
	return r.set.Names()
}

// CurrentResult returns the latest result without consuming it.
func (r *Runner) CurrentResult() (*bucketvision.Result, bool) {
	res := r.latest.Load()
	return res, res != nil
}

// TryTakeResult returns the latest result if it was not returned by a
// previous call. Intended for a single consumer.
func (r *Runner) TryTakeResult() (*bucketvision.Result, bool) {
	for {
		res := r.latest.Load()
		if res == nil {
			return nil, false
		}
		taken := r.taken.Load()
		if res.Seq() <= taken {
			return nil, false
		}
		if r.taken.CompareAndSwap(taken, res.Seq()) {
			return res, true
		}
	}
}

// Status returns a snapshot of the runner's state.
func (r *Runner) Status() RunnerStatus {
	return RunnerStatus{
		State:     r.life.State(),
		Stage:     r.Active(),
		Results:   r.rate.Count(),
		FPS:       r.rate.FPS(),
		Faults:    r.faults.Load(),
		LastFault: r.lastFault.Load(),
	}
}

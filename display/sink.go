// Package display selects which runner's results are shown. A Sink takes the
// latest result of the selected runner and counts each distinct frame, so
// the caller can render, record and publish every frame exactly once.
package display

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// ErrUnknownMode is returned when selecting a mode without feed.
var ErrUnknownMode = errors.New("unknown display mode")

// Feed is a source of results, typically a stage.Runner.
type Feed interface {
	TryTakeResult() (*bucketvision.Result, bool)
}

// Shown is a result picked for display.
type Shown struct {
	Result *bucketvision.Result
	Mode   string // Feed the result came from.
	Count  uint64 // Number of frames shown so far, including this one.
}

// SinkOpts are options for a new sink.
type SinkOpts struct {
	// How long to sleep when no new result is available, default 500µs.
	IdlePoll time.Duration

	// Called from the sink's goroutine for each frame shown. Must not block.
	OnShow func(Shown)

	Logger *zerolog.Logger
}

type selection struct {
	mode string
	feed Feed
}

// Sink picks results from the selected feed.
type Sink struct {
	feeds  map[string]Feed
	modes  []string
	opts   SinkOpts
	log    zerolog.Logger
	life   bucketvision.Lifecycle
	rate   *bucketvision.FrameRate
	count  atomic.Uint64
	latest atomic.Pointer[Shown]

	// mu makes a mode switch and the publication of a result taken for the
	// previous mode mutually exclusive.
	mu  sync.Mutex
	sel atomic.Pointer[selection]
}

// NewSink returns a sink showing feed initial first.
func NewSink(feeds map[string]Feed, initial string, opts *SinkOpts) (*Sink, error) {
	var xopts SinkOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.IdlePoll == 0 {
		xopts.IdlePoll = 500 * time.Microsecond
	}
	f, ok := feeds[initial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, initial)
	}

	s := &Sink{
		feeds: make(map[string]Feed, len(feeds)),
		opts:  xopts,
		log:   logging.Component(xopts.Logger, "display", ""),
	}
	for mode, feed := range feeds {
		s.feeds[mode] = feed
		s.modes = append(s.modes, mode)
	}
	sort.Strings(s.modes)
	s.rate, _ = bucketvision.NewFrameRate(30)
	s.sel.Store(&selection{initial, f})
	return s, nil
}

// Lifecycle returns the lifecycle of the display loop.
func (s *Sink) Lifecycle() *bucketvision.Lifecycle {
	return &s.life
}

// IsStopped returns whether the display loop has exited.
func (s *Sink) IsStopped() bool {
	return s.life.IsStopped()
}

// Start starts the display loop.
func (s *Sink) Start() error {
	if err := s.life.Begin(); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	go s.run()
	return nil
}

// Stop asks the display loop to exit.
func (s *Sink) Stop() {
	s.life.RequestStop()
}

func (s *Sink) run() {
	defer s.life.MarkStopped()
	s.life.MarkRunning()
	s.log.Info().Str("mode", s.Mode()).Msg("displaying")

	var discarded uint64
	for !s.life.StopRequested() {
		sel := s.sel.Load()
		res, ok := sel.feed.TryTakeResult()
		if !ok {
			time.Sleep(s.opts.IdlePoll)
			continue
		}

		s.mu.Lock()
		if s.sel.Load() != sel {
			s.mu.Unlock()
			discarded++
			continue
		}
		shown := &Shown{Result: res, Mode: sel.mode, Count: s.count.Add(1)}
		s.latest.Store(shown)
		s.mu.Unlock()

		s.rate.Tick(time.Now())
		if s.opts.OnShow != nil {
			s.opts.OnShow(*shown)
		}
	}
	s.log.Info().Uint64("shown", s.count.Load()).Uint64("discarded", discarded).Msg("display stopped")
}

// SetMode switches to the feed named mode. No result of the previous feed is
// shown after SetMode returns.
func (s *Sink) SetMode(mode string) error {
	f, ok := s.feeds[mode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	s.mu.Lock()
	old := s.sel.Swap(&selection{mode, f})
	if old.mode != mode {
		s.latest.Store(nil)
	}
	s.mu.Unlock()
	if old.mode != mode {
		s.log.Info().Str("from", old.mode).Str("to", mode).Msg("display mode")
	}
	return nil
}

// Mode returns the selected mode.
func (s *Sink) Mode() string {
	return s.sel.Load().mode
}

// Selected returns the selected mode and its feed.
func (s *Sink) Selected() (string, Feed) {
	sel := s.sel.Load()
	return sel.mode, sel.feed
}

// Modes returns the names of all feeds, sorted.
func (s *Sink) Modes() []string {
	return append([]string(nil), s.modes...)
}

// Latest returns the last result shown, if any was shown since the last mode
// switch.
func (s *Sink) Latest() (Shown, bool) {
	sh := s.latest.Load()
	if sh == nil {
		return Shown{}, false
	}
	return *sh, true
}

// Count returns the number of frames shown.
func (s *Sink) Count() uint64 {
	return s.count.Load()
}

// FPS returns the rate at which frames are shown.
func (s *Sink) FPS() float64 {
	return s.rate.FPS()
}

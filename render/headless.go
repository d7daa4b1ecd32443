// Package render shows frames to the operator and reads their key presses.
package render

import (
	"bufio"
	"image"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// Target shows frames and returns keys pressed by the operator.
type Target interface {
	Show(img image.Image) error

	// PollKey waits up to timeout for a key press.
	PollKey(timeout time.Duration) (rune, bool)

	Close() error
}

// Headless is a Target without a screen, for robots and tests. Frames are
// counted, keys are read from a reader such as stdin. Whitespace is ignored,
// so typing "r" and enter toggles recording.
type Headless struct {
	log   zerolog.Logger
	keys  chan rune
	shown atomic.Uint64
	every uint64
}

var _ Target = (*Headless)(nil)

// HeadlessOpts are options for a headless target.
type HeadlessOpts struct {
	// Log every n-th frame shown at debug level. Zero disables.
	LogEvery uint64

	Logger *zerolog.Logger
}

// NewHeadless returns a headless target reading keys from r, which may be
// nil. The goroutine reading r exits at EOF, a read blocked on r is not
// interrupted by Close.
func NewHeadless(r io.Reader, opts *HeadlessOpts) *Headless {
	var xopts HeadlessOpts
	if opts != nil {
		xopts = *opts
	}
	h := &Headless{
		log:   logging.Component(xopts.Logger, "render", "headless"),
		keys:  make(chan rune, 16),
		every: xopts.LogEvery,
	}
	if r != nil {
		go h.read(r)
	}
	return h
}

func (h *Headless) read(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		c, _, err := br.ReadRune()
		if err != nil {
			if err != io.EOF {
				h.log.Debug().Err(err).Msg("reading keys")
			}
			return
		}
		if c == ' ' || c == '\n' || c == '\r' || c == '\t' {
			continue
		}
		select {
		case h.keys <- c:
		default:
			h.log.Debug().Str("key", string(c)).Msg("dropping key")
		}
	}
}

// Show implements Target.
func (h *Headless) Show(img image.Image) error {
	n := h.shown.Add(1)
	if h.every > 0 && n%h.every == 0 {
		h.log.Debug().Uint64("shown", n).Stringer("size", img.Bounds().Size()).Msg("frames shown")
	}
	return nil
}

// Shown returns the number of frames shown.
func (h *Headless) Shown() uint64 {
	return h.shown.Load()
}

// PollKey implements Target.
func (h *Headless) PollKey(timeout time.Duration) (rune, bool) {
	if timeout <= 0 {
		select {
		case k := <-h.keys:
			return k, true
		default:
			return 0, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case k := <-h.keys:
		return k, true
	case <-t.C:
		return 0, false
	}
}

// Close implements Target.
func (h *Headless) Close() error {
	return nil
}

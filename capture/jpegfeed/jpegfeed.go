// Package jpegfeed picks up jpeg frames that an external capture process
// writes into a directory, for drivers that shell out to ffmpeg, gstreamer or
// imagesnap.
package jpegfeed

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// Opts are options for a new feed.
type Opts struct {
	// Files arriving sooner than MinInterval after the previous frame are
	// removed without decoding. Zero keeps every frame.
	MinInterval time.Duration

	// How long Next waits for a frame before returning capture.ErrNoFrame.
	// Default 100ms.
	Timeout time.Duration

	Logger *zerolog.Logger
}

// Feed watches a directory for jpeg files. Each file is decoded and removed,
// and only the most recent image is kept until Next takes it.
type Feed struct {
	opts    Opts
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	frames  chan image.Image // Capacity 1, holds the latest frame.
	done    chan struct{}

	closeOnce sync.Once
}

// New starts watching dir. Callers must call Close to clean up.
func New(dir string, opts *Opts) (feed *Feed, rerr error) {
	var xopts Opts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Timeout == 0 {
		xopts.Timeout = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	f := &Feed{
		opts:    xopts,
		log:     logging.Component(xopts.Logger, "jpegfeed", dir),
		watcher: watcher,
		frames:  make(chan image.Image, 1),
		done:    make(chan struct{}),
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			f.Close()
		}
	}()

	go f.watch()

	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("registering file change watcher for %s: %v", dir, err)
	}
	return f, nil
}

func (f *Feed) watch() {
	defer close(f.done)

	var last time.Time
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			now := time.Now()
			if f.opts.MinInterval > 0 && now.Sub(last) < f.opts.MinInterval*9/10 {
				f.remove(ev.Name, "skipped")
				continue
			}
			img, err := decodeFile(ev.Name)
			if err != nil {
				// Usually partially written, the next write event retries.
				f.log.Debug().Err(err).Str("file", ev.Name).Msg("decoding jpeg")
				continue
			}
			f.remove(ev.Name, "decoded")
			last = now
			f.offer(img)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("watching for changes")
		}
	}
}

// offer makes img the latest frame, dropping a frame nobody took.
func (f *Feed) offer(img image.Image) {
	for {
		select {
		case f.frames <- img:
			return
		default:
		}
		select {
		case <-f.frames:
			f.log.Trace().Msg("dropping frame, reader still busy")
		default:
		}
	}
}

func (f *Feed) remove(name, what string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		f.log.Debug().Err(err).Str("file", name).Msgf("removing %s image", what)
	}
}

func decodeFile(name string) (image.Image, error) {
	fp, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return jpeg.Decode(fp)
}

// Next returns the latest frame. It waits up to the configured timeout and
// returns capture.ErrNoFrame if nothing arrived, or capture.ErrDeviceClosed
// after Close.
func (f *Feed) Next() (image.Image, error) {
	t := time.NewTimer(f.opts.Timeout)
	defer t.Stop()
	select {
	case img := <-f.frames:
		return img, nil
	case <-f.done:
		return nil, capture.ErrDeviceClosed
	case <-t.C:
		return nil, capture.ErrNoFrame
	}
}

// Close stops watching. The directory is left alone.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.watcher.Close()
		<-f.done
	})
	return err
}

package jpegfeed

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// ProcessOpts are options for StartProcess.
type ProcessOpts struct {
	MinInterval time.Duration // See Opts.
	Timeout     time.Duration // See Opts.

	// Hint added to the error when the executable is not installed.
	InstallHint string

	Logger *zerolog.Logger
}

// Process is an external capture process writing jpegs into a temporary
// directory, and the feed reading them.
type Process struct {
	name    string
	tempDir string
	cancel  context.CancelFunc
	feed    *Feed
	log     zerolog.Logger

	exited  chan struct{}
	mu      sync.Mutex
	exitErr error
}

// StartProcess makes a temporary directory, starts command name with the
// arguments returned by args for that directory, and feeds the jpegs it
// writes there.
//
// Callers must call Close to clean up.
func StartProcess(name string, args func(dir string) []string, opts *ProcessOpts) (proc *Process, rerr error) {
	var xopts ProcessOpts
	if opts != nil {
		xopts = *opts
	}
	p := &Process{
		name:   name,
		log:    logging.Component(xopts.Logger, "process", name),
		exited: make(chan struct{}),
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			p.Close()
		}
	}()

	tempDir, err := bucketvision.TempDir(filepath.Base(name))
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	p.tempDir = tempDir
	p.log.Debug().Str("dir", tempDir).Msg("writing images to tempdir")

	// Watch before starting, so the first frames are not missed.
	p.feed, err = New(tempDir, &Opts{MinInterval: xopts.MinInterval, Timeout: xopts.Timeout, Logger: xopts.Logger})
	if err != nil {
		return nil, err
	}

	argv := args(tempDir)
	p.log.Debug().Strs("args", argv).Msg("starting capture process")

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	cmd := exec.CommandContext(ctx, name, argv...)
	cmd.Dir = tempDir
	if p.log.GetLevel() <= zerolog.DebugLevel {
		out := p.log.With().Str("stream", "output").Logger()
		cmd.Stdout = out
		cmd.Stderr = out
	}
	if err := cmd.Start(); err != nil {
		close(p.exited)
		if errors.Is(err, exec.ErrNotFound) && xopts.InstallHint != "" {
			err = fmt.Errorf("%v, install with: %s", err, xopts.InstallHint)
		}
		return nil, fmt.Errorf("starting %s: %v", name, err)
	}
	go func() {
		err := cmd.Wait()
		if ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("capture process exited")
		}
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()

	return p, nil
}

// Dir returns the temporary directory the process writes to.
func (p *Process) Dir() string {
	return p.tempDir
}

// Next returns the latest frame, see Feed.Next. If the process exited, Next
// returns an error.
func (p *Process) Next() (image.Image, error) {
	select {
	case <-p.exited:
		p.mu.Lock()
		err := p.exitErr
		p.mu.Unlock()
		if err == nil {
			err = errors.New("no error")
		}
		return nil, fmt.Errorf("%s exited: %v", p.name, err)
	default:
	}
	return p.feed.Next()
}

// Close stops the process, the feed, and removes the temporary directory.
func (p *Process) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.exited
	}
	if p.feed != nil {
		p.feed.Close()
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
	}
	return nil
}

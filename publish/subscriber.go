package publish

import (
	"context"
	"fmt"
	"image"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// SubscriberOpts are options for a new subscriber.
type SubscriberOpts struct {
	Port int // Default 5555.

	// How often Receive checks for cancellation and logs that it is still
	// waiting, default 1s.
	PollTimeout time.Duration

	Logger *zerolog.Logger
}

// Subscriber receives frames from publishers, on the viewer side.
type Subscriber struct {
	opts SubscriberOpts
	log  zerolog.Logger
	ctx  *zmq.Context
	sock *zmq.Socket
}

// NewSubscriber binds the port on all interfaces. Callers must call Close.
func NewSubscriber(opts *SubscriberOpts) (sub *Subscriber, rerr error) {
	var xopts SubscriberOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Port == 0 {
		xopts.Port = 5555
	}
	if xopts.PollTimeout == 0 {
		xopts.PollTimeout = time.Second
	}
	s := &Subscriber{opts: xopts, log: logging.Component(xopts.Logger, "subscriber", "")}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	var err error
	s.ctx, err = zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new zmq context: %v", err)
	}
	s.sock, err = s.ctx.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("new sub socket: %v", err)
	}
	if err := s.sock.SetRcvtimeo(xopts.PollTimeout); err != nil {
		return nil, fmt.Errorf("setting receive timeout: %v", err)
	}
	if err := s.sock.SetLinger(0); err != nil {
		return nil, fmt.Errorf("setting linger: %v", err)
	}
	endpoint := fmt.Sprintf("tcp://*:%d", xopts.Port)
	if err := s.sock.Bind(endpoint); err != nil {
		return nil, fmt.Errorf("binding %s: %v", endpoint, err)
	}
	if err := s.sock.SetSubscribe(""); err != nil {
		return nil, fmt.Errorf("subscribing: %v", err)
	}
	s.log.Info().Str("endpoint", endpoint).Msg("waiting for frames")
	return s, nil
}

// Receive returns the next frame. It blocks until a frame arrives or ctx is
// done. Frames that fail to decode are logged and skipped.
func (s *Subscriber) Receive(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf, err := s.sock.RecvBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				s.log.Debug().Msg("waiting for frames")
				continue
			}
			return nil, fmt.Errorf("receiving frame: %v", err)
		}
		img, err := Decode(buf)
		if err != nil {
			s.log.Warn().Err(err).Int("size", len(buf)).Msg("skipping frame")
			continue
		}
		return img, nil
	}
}

// Close closes the socket.
func (s *Subscriber) Close() error {
	var err error
	if s.sock != nil {
		err = s.sock.Close()
		s.sock = nil
	}
	if s.ctx != nil {
		if terr := s.ctx.Term(); terr != nil && err == nil {
			err = terr
		}
		s.ctx = nil
	}
	return err
}

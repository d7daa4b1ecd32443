package publish

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"syscall"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// PublisherOpts are options for a new publisher.
type PublisherOpts struct {
	Host string // Default "localhost".
	Port int    // Default 5555.

	// Frames queued for a slow viewer before new frames are dropped,
	// default 2.
	SendHWM int

	Encode EncodeOpts

	Logger *zerolog.Logger
}

// Publisher sends frames to a viewer.
type Publisher struct {
	opts     PublisherOpts
	endpoint string
	log      zerolog.Logger
	ctx      *zmq.Context

	mu   sync.Mutex // Sockets are not safe for concurrent use.
	sock *zmq.Socket

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewPublisher connects to the viewer. Connecting succeeds without a
// viewer, frames are dropped until one binds the port. Callers must call
// Close.
func NewPublisher(opts *PublisherOpts) (pub *Publisher, rerr error) {
	var xopts PublisherOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Host == "" {
		xopts.Host = "localhost"
	}
	if xopts.Port == 0 {
		xopts.Port = 5555
	}
	if xopts.SendHWM == 0 {
		xopts.SendHWM = 2
	}
	p := &Publisher{
		opts:     xopts,
		endpoint: fmt.Sprintf("tcp://%s:%d", xopts.Host, xopts.Port),
		log:      logging.Component(xopts.Logger, "publisher", ""),
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			p.Close()
		}
	}()

	var err error
	p.ctx, err = zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new zmq context: %v", err)
	}
	p.sock, err = p.ctx.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("new pub socket: %v", err)
	}
	if err := p.sock.SetSndhwm(xopts.SendHWM); err != nil {
		return nil, fmt.Errorf("setting send high water mark: %v", err)
	}
	if err := p.sock.SetLinger(0); err != nil {
		return nil, fmt.Errorf("setting linger: %v", err)
	}
	if err := p.sock.Connect(p.endpoint); err != nil {
		return nil, fmt.Errorf("connecting to %s: %v", p.endpoint, err)
	}
	p.log.Info().Str("endpoint", p.endpoint).Msg("publishing frames")
	return p, nil
}

// Endpoint returns the address frames are sent to.
func (p *Publisher) Endpoint() string {
	return p.endpoint
}

// Publish encodes and sends img. A frame the socket cannot take right away
// is dropped without error.
func (p *Publisher) Publish(img image.Image) error {
	buf, err := Encode(img, &p.opts.Encode)
	if err != nil {
		return err
	}
	return p.send(buf)
}

func (p *Publisher) send(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sock == nil {
		return fmt.Errorf("publisher closed")
	}
	_, err := p.sock.SendBytes(buf, zmq.DONTWAIT)
	if err != nil {
		if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
			n := p.dropped.Add(1)
			p.log.Trace().Uint64("dropped", n).Msg("dropping frame, viewer not keeping up")
			return nil
		}
		return fmt.Errorf("sending frame: %v", err)
	}
	p.sent.Add(1)
	return nil
}

// Stats returns the number of frames sent and dropped.
func (p *Publisher) Stats() (sent, dropped uint64) {
	return p.sent.Load(), p.dropped.Load()
}

// Close closes the socket. Queued frames are discarded.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.sock != nil {
		err = p.sock.Close()
		p.sock = nil
	}
	if p.ctx != nil {
		// With linger 0, Term does not wait for queued frames.
		if terr := p.ctx.Term(); terr != nil && err == nil {
			err = terr
		}
		p.ctx = nil
	}
	return err
}

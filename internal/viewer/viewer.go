// Package viewer runs the display loop of the viewer command.
package viewer

import (
	"context"
	"image"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/RocketRedNeck/BucketVision/render"
)

// Receiver is the part of publish.Subscriber used by Run.
type Receiver interface {
	Receive(ctx context.Context) (image.Image, error)
}

// Run receives frames in a goroutine and shows the latest one until the
// operator quits or ctx is done. Showing and polling keys stay on the calling
// goroutine, windows need that.
func Run(ctx context.Context, r Receiver, target render.Target, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Only the newest frame is kept, a slow display skips frames.
	frames := make(chan image.Image, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			img, err := r.Receive(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case <-frames:
			default:
			}
			frames <- img
		}
	})

	var shown uint64
	for gctx.Err() == nil {
		select {
		case img := <-frames:
			if err := target.Show(img); err != nil {
				log.Warn().Err(err).Msg("showing frame")
			}
			shown++
		default:
		}
		if k, ok := target.PollKey(10 * time.Millisecond); ok && (k == 'q' || k == 27) {
			log.Info().Uint64("shown", shown).Msg("quit by operator")
			break
		}
	}
	cancel()
	return g.Wait()
}

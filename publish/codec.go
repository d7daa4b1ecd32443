// Package publish streams frames as JPEG over ZeroMQ to a remote viewer. The
// publisher connects a PUB socket to the viewer, which binds a SUB socket.
// Sending never blocks: frames are dropped while the viewer is slow or
// absent.
package publish

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// EncodeOpts are options for encoding frames.
type EncodeOpts struct {
	// Frames larger than MaxWidth x MaxHeight are scaled down to fit,
	// keeping the aspect ratio. Zero means no limit.
	MaxWidth, MaxHeight int

	// JPEG quality, 1-100, default 80.
	Quality int
}

// Encode encodes img as JPEG.
func Encode(img image.Image, opts *EncodeOpts) ([]byte, error) {
	var xopts EncodeOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Quality == 0 {
		xopts.Quality = 80
	}
	size := img.Bounds().Size()
	if (xopts.MaxWidth > 0 && size.X > xopts.MaxWidth) || (xopts.MaxHeight > 0 && size.Y > xopts.MaxHeight) {
		w, h := xopts.MaxWidth, xopts.MaxHeight
		if w == 0 {
			w = size.X
		}
		if h == 0 {
			h = size.Y
		}
		img = imaging.Fit(img, w, h, imaging.Linear)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(xopts.Quality)); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %v", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes a frame received from a publisher.
func Decode(buf []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %v", err)
	}
	return img, nil
}

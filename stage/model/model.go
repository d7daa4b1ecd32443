// Package model runs an external model process on frames, an Edge Impulse
// style runner listening on a unix socket. Frames are cropped and scaled to
// the model input, found objects are drawn on the frame.
package model

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/stage"
)

// Opts are options for a model stage.
type Opts struct {
	// Average the scores of classification models over the last Smooth
	// frames. Zero reports raw scores.
	Smooth int
}

// Stage classifies frames with a model. Its data is the model's Response.
type Stage struct {
	model  Classifier
	params Parameters
	box    color.NRGBA
	smooth *Smoother // Nil if not smoothing.
}

var _ stage.Stage = (*Stage)(nil)

// New returns a stage classifying with m. Closing the stage closes m.
func New(m Classifier, opts *Opts) (*Stage, error) {
	var xopts Opts
	if opts != nil {
		xopts = *opts
	}
	p := m.Parameters()
	if p.ImageInputWidth <= 0 || p.ImageInputHeight <= 0 {
		return nil, fmt.Errorf("model has invalid input size %dx%d", p.ImageInputWidth, p.ImageInputHeight)
	}
	s := &Stage{model: m, params: p, box: color.NRGBA{R: 255, G: 0, B: 255, A: 255}}
	if xopts.Smooth > 0 && p.Type == Classification {
		var err error
		s.smooth, err = NewSmoother(xopts.Smooth, p.Labels)
		if err != nil {
			return nil, fmt.Errorf("smoothing classification: %v", err)
		}
	}
	return s, nil
}

// Transform implements stage.Stage.
func (s *Stage) Transform(f *bucketvision.Frame) (stage.Output, error) {
	size := image.Pt(s.params.ImageInputWidth, s.params.ImageInputHeight)
	input := imaging.Fill(f.Image, size.X, size.Y, imaging.Center, imaging.NearestNeighbor)

	resp, err := s.model.Classify(Features(input, s.params.ImageChannelCount))
	if err != nil {
		return stage.Output{}, err
	}
	if s.smooth != nil && len(resp.Result.Classification) > 0 {
		resp.Result.Classification, err = s.smooth.Update(resp.Result.Classification)
		if err != nil {
			return stage.Output{}, err
		}
	}
	if len(resp.Result.BoundingBoxes) == 0 {
		return stage.Output{Data: resp}, nil
	}

	out := imaging.Clone(f.Image)
	crop := fillCrop(out.Bounds().Size(), size)
	sx := float64(crop.Dx()) / float64(size.X)
	sy := float64(crop.Dy()) / float64(size.Y)
	for _, b := range resp.Result.BoundingBoxes {
		r := image.Rect(
			crop.Min.X+int(float64(b.X)*sx), crop.Min.Y+int(float64(b.Y)*sy),
			crop.Min.X+int(float64(b.X+b.Width)*sx), crop.Min.Y+int(float64(b.Y+b.Height)*sy),
		)
		outline(out, r, s.box)
	}
	return stage.Output{Image: out, Data: resp}, nil
}

// Close closes the model.
func (s *Stage) Close() error {
	return s.model.Close()
}

// Features converts an image of the model input size to the model's
// features: one value per pixel, either 0xRRGGBB or, for single channel
// models, the gray level repeated in each byte.
func Features(img image.Image, channels int) []float64 {
	b := img.Bounds()
	if channels != 3 {
		if _, ok := img.(*image.Gray); !ok {
			g := image.NewGray(b)
			draw.Draw(g, b, img, b.Min, draw.Src)
			img = g
		}
	}
	data := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			r >>= 8
			g >>= 8
			bl >>= 8
			data = append(data, float64((r<<16)|(g<<8)|bl))
		}
	}
	return data
}

// fillCrop returns the centered part of an image of size src that
// imaging.Fill keeps when filling dst.
func fillCrop(src, dst image.Point) image.Rectangle {
	w, h := src.X, src.Y
	if src.X*dst.Y > dst.X*src.Y {
		w = src.Y * dst.X / dst.Y
	} else {
		h = src.X * dst.Y / dst.X
	}
	x, y := (src.X-w)/2, (src.Y-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func outline(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(img.Rect)
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetNRGBA(x, r.Min.Y, c)
		img.SetNRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetNRGBA(r.Min.X, y, c)
		img.SetNRGBA(r.Max.X-1, y, c)
	}
}

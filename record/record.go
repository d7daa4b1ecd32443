// Package record appends displayed frames to a video file.
package record

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// VideoFileOpts are options for a new video file.
type VideoFileOpts struct {
	Codec  string // FourCC, default "MJPG".
	FPS    float64
	Width  int
	Height int

	Logger *zerolog.Logger
}

// VideoFile is a video file with fixed frame rate and size. Frames of
// another size are scaled to fit.
type VideoFile struct {
	path   string
	opts   VideoFileOpts
	log    zerolog.Logger
	writer *gocv.VideoWriter
	frames int
}

// NewVideoFile creates the file at path, replacing an existing file.
// Callers must call Close, or the file is left unplayable.
func NewVideoFile(path string, opts VideoFileOpts) (*VideoFile, error) {
	if opts.Codec == "" {
		opts.Codec = "MJPG"
	}
	if opts.FPS <= 0 || opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid video format %dx%d@%v", opts.Width, opts.Height, opts.FPS)
	}
	w, err := gocv.VideoWriterFile(path, opts.Codec, opts.FPS, opts.Width, opts.Height, true)
	if err != nil {
		return nil, fmt.Errorf("creating video file %s: %v", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("creating video file %s: codec %s not available", path, opts.Codec)
	}
	f := &VideoFile{path: path, opts: opts, log: logging.Component(opts.Logger, "record", path), writer: w}
	f.log.Info().Str("codec", opts.Codec).Int("width", opts.Width).Int("height", opts.Height).Float64("fps", opts.FPS).Msg("video file created")
	return f, nil
}

// Write appends img to the video.
func (f *VideoFile) Write(img image.Image) error {
	if f.writer == nil {
		return fmt.Errorf("video file closed")
	}
	if img.Bounds().Dx() != f.opts.Width || img.Bounds().Dy() != f.opts.Height {
		img = imaging.Resize(img, f.opts.Width, f.opts.Height, imaging.Linear)
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("converting frame: %v", err)
	}
	defer mat.Close()
	if err := f.writer.Write(mat); err != nil {
		return fmt.Errorf("writing frame to %s: %v", f.path, err)
	}
	f.frames++
	return nil
}

// Close finishes the file.
func (f *VideoFile) Close() error {
	if f.writer == nil {
		return nil
	}
	err := f.writer.Close()
	f.writer = nil
	f.log.Info().Int("frames", f.frames).Msg("video file closed")
	return err
}

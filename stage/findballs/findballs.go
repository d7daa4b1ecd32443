// Package findballs finds coloured balls in frames with OpenCV: the frame is
// downscaled, thresholded on hue, saturation and value, and the outer
// contours of the mask are the balls.
package findballs

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/stage"
)

// Opts select the balls to find. Zero fields get the defaults of
// DefaultOpts, which match a yellow ball.
type Opts struct {
	HueMin, HueMax float64 // Degrees, 0-360. HueMin > HueMax wraps around red.
	SatMin         float64 // 0-1.
	ValMin         float64 // 0-1.

	// Width of the analysed copy of the frame. Smaller is faster.
	Width int

	// Contours enclosing less than MinArea pixels of the analysed copy are
	// ignored.
	MinArea int

	// At most MaxBalls are reported, largest first.
	MaxBalls int
}

// DefaultOpts find yellow balls.
var DefaultOpts = Opts{
	HueMin:   40,
	HueMax:   70,
	SatMin:   0.45,
	ValMin:   0.35,
	Width:    160,
	MinArea:  12,
	MaxBalls: 5,
}

// Ball is a ball found in a frame, in frame coordinates.
type Ball struct {
	Center image.Point
	Radius int
	Bounds image.Rectangle
	Area   int // Contour area in pixels of the analysed copy.
}

// Balls is the result data of the stage, largest ball first.
type Balls []Ball

// FindBalls is the stage. It keeps its working images between frames and
// must be closed.
type FindBalls struct {
	opts Opts
	box  color.RGBA

	// Thresholds in OpenCV units: hue 0-180, saturation and value 0-255.
	lower, upper gocv.Scalar

	small gocv.Mat
	hsv   gocv.Mat
	mask  gocv.Mat
	wrap  gocv.Mat // Second hue range when the hue wraps around red.
}

var _ stage.Stage = (*FindBalls)(nil)

// New returns a ball finder.
func New(opts *Opts) *FindBalls {
	var xopts Opts
	if opts != nil {
		xopts = *opts
	}
	d := DefaultOpts
	if xopts.HueMin == 0 && xopts.HueMax == 0 {
		xopts.HueMin, xopts.HueMax = d.HueMin, d.HueMax
	}
	if xopts.SatMin == 0 {
		xopts.SatMin = d.SatMin
	}
	if xopts.ValMin == 0 {
		xopts.ValMin = d.ValMin
	}
	if xopts.Width == 0 {
		xopts.Width = d.Width
	}
	if xopts.MinArea == 0 {
		xopts.MinArea = d.MinArea
	}
	if xopts.MaxBalls == 0 {
		xopts.MaxBalls = d.MaxBalls
	}
	return &FindBalls{
		opts:  xopts,
		box:   color.RGBA{R: 0, G: 255, B: 0, A: 255},
		lower: gocv.NewScalar(xopts.HueMin/2, xopts.SatMin*255, xopts.ValMin*255, 0),
		upper: gocv.NewScalar(xopts.HueMax/2, 255, 255, 0),
		small: gocv.NewMat(),
		hsv:   gocv.NewMat(),
		mask:  gocv.NewMat(),
		wrap:  gocv.NewMat(),
	}
}

// Close releases the working images.
func (fb *FindBalls) Close() error {
	for _, m := range []*gocv.Mat{&fb.small, &fb.hsv, &fb.mask, &fb.wrap} {
		if err := m.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Transform implements stage.Stage. The output image is a copy of the frame
// with a box around each ball.
func (fb *FindBalls) Transform(f *bucketvision.Frame) (stage.Output, error) {
	b := f.Image.Bounds()
	if b.Empty() {
		return stage.Output{}, nil
	}

	mat, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return stage.Output{}, fmt.Errorf("converting frame: %v", err)
	}
	defer mat.Close()

	w := min(fb.opts.Width, b.Dx())
	h := max(1, b.Dy()*w/b.Dx())
	gocv.Resize(mat, &fb.small, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	gocv.GaussianBlur(fb.small, &fb.small, image.Pt(3, 3), 0, 0, gocv.BorderDefault)
	gocv.CvtColor(fb.small, &fb.hsv, gocv.ColorBGRToHSV)
	fb.threshold()

	balls := fb.find()

	// Scale back to frame coordinates.
	sx := float64(b.Dx()) / float64(w)
	sy := float64(b.Dy()) / float64(h)
	for i := range balls {
		r := balls[i].Bounds
		balls[i].Bounds = image.Rect(
			b.Min.X+int(float64(r.Min.X)*sx), b.Min.Y+int(float64(r.Min.Y)*sy),
			b.Min.X+int(math.Ceil(float64(r.Max.X)*sx)), b.Min.Y+int(math.Ceil(float64(r.Max.Y)*sy)),
		)
		br := balls[i].Bounds
		balls[i].Center = image.Pt((br.Min.X+br.Max.X)/2, (br.Min.Y+br.Max.Y)/2)
		balls[i].Radius = max(br.Dx(), br.Dy()) / 2
		gocv.Rectangle(&mat, br.Sub(b.Min), fb.box, 2)
	}

	img, err := mat.ToImage()
	if err != nil {
		return stage.Output{}, fmt.Errorf("converting annotated frame: %v", err)
	}
	return stage.Output{Image: img, Data: balls}, nil
}

// threshold fills mask with the pixels of hsv within the colour range.
func (fb *FindBalls) threshold() {
	if fb.opts.HueMin <= fb.opts.HueMax {
		gocv.InRangeWithScalar(fb.hsv, fb.lower, fb.upper, &fb.mask)
		return
	}
	// HueMin..180 or 0..HueMax.
	top := gocv.NewScalar(180, 255, 255, 0)
	bottom := gocv.NewScalar(0, fb.lower.Val2, fb.lower.Val3, 0)
	gocv.InRangeWithScalar(fb.hsv, fb.lower, top, &fb.mask)
	gocv.InRangeWithScalar(fb.hsv, bottom, fb.upper, &fb.wrap)
	gocv.BitwiseOr(fb.mask, fb.wrap, &fb.mask)
}

// find returns the outer contours of mask as balls, in coordinates of the
// analysed copy.
func (fb *FindBalls) find() Balls {
	contours := gocv.FindContours(fb.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var balls Balls
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < float64(fb.opts.MinArea) {
			continue
		}
		balls = append(balls, Ball{Bounds: gocv.BoundingRect(c), Area: int(math.Round(area))})
	}

	sort.SliceStable(balls, func(i, j int) bool { return balls[i].Area > balls[j].Area })
	if len(balls) > fb.opts.MaxBalls {
		balls = balls[:fb.opts.MaxBalls]
	}
	return balls
}

// Package faces finds faces in frames with an OpenCV Haar cascade.
package faces

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/stage"
)

// DefaultCascade is the cascade file shipped with OpenCV for frontal faces.
const DefaultCascade = "haarcascade_frontalface_default.xml"

// Faces is the stage. Its data is the []image.Rectangle of faces found.
type Faces struct {
	classifier gocv.CascadeClassifier
	outline    color.RGBA
}

var _ stage.Stage = (*Faces)(nil)

// New loads the cascade file. Callers must call Close.
func New(cascade string) (*Faces, error) {
	if cascade == "" {
		cascade = DefaultCascade
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(cascade) {
		c.Close()
		return nil, fmt.Errorf("reading cascade file %s", cascade)
	}
	return &Faces{classifier: c, outline: color.RGBA{255, 0, 0, 255}}, nil
}

// Transform implements stage.Stage.
func (fs *Faces) Transform(f *bucketvision.Frame) (stage.Output, error) {
	mat, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return stage.Output{}, fmt.Errorf("converting frame: %v", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	rects := fs.classifier.DetectMultiScale(gray)
	for _, r := range rects {
		gocv.Rectangle(&mat, r, fs.outline, 3)
	}
	img, err := mat.ToImage()
	if err != nil {
		return stage.Output{}, fmt.Errorf("converting annotated frame: %v", err)
	}
	return stage.Output{Image: img, Data: rects}, nil
}

// Close releases the classifier.
func (fs *Faces) Close() error {
	return fs.classifier.Close()
}

// Rects returns the faces in the data of a result.
func Rects(data interface{}) []image.Rectangle {
	r, _ := data.([]image.Rectangle)
	return r
}

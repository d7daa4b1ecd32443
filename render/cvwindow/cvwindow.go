// Package cvwindow shows frames in an OpenCV window.
package cvwindow

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/RocketRedNeck/BucketVision/render"
)

// Window shows frames in an OpenCV window. Like all OpenCV GUI calls, its
// methods must be called from the main goroutine.
type Window struct {
	win *gocv.Window
}

var _ render.Target = (*Window)(nil)

// NewWindow opens a window with title.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show implements render.Target.
func (w *Window) Show(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("converting frame: %v", err)
	}
	defer mat.Close()
	w.win.IMShow(mat)
	return nil
}

// PollKey implements render.Target. It also lets the window process its events,
// so it must be called regularly.
func (w *Window) PollKey(timeout time.Duration) (rune, bool) {
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	k := w.win.WaitKey(ms)
	if k < 0 {
		return 0, false
	}
	return rune(k & 0xff), true
}

// Close implements render.Target.
func (w *Window) Close() error {
	return w.win.Close()
}

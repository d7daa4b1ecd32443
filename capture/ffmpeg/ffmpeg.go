// Package ffmpeg implements a capture device running ffmpeg on a V4L2
// camera.
package ffmpeg

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/jpegfeed"
	"github.com/RocketRedNeck/BucketVision/capture/v4l2ctl"
)

const installHint = "sudo apt install -y ffmpeg v4l-utils"

// ListDevices returns a list of devices that can be used for capturing.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]capture.DeviceInfo, error) {
	return v4l2ctl.ListDevices()
}

func args(id string, s jpegfeed.Settings, dir string) []string {
	return []string{
		"-nostdin",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", s.FPS),
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-input_format", "mjpeg",
		"-i", v4l2ctl.DevicePath(id),
		"-f", "image2",
		"-c:v", "copy",
		"-bsf:v", "mjpeg2jpeg",
		"-qscale:v", "2",
		dir + "/frame%d.jpg",
	}
}

// NewDevice returns a device capturing with ffmpeg. Exposure is controlled
// with v4l2-ctl.
func NewDevice(log *zerolog.Logger) *jpegfeed.Device {
	return jpegfeed.NewDevice(jpegfeed.DeviceOpts{
		Command:     "ffmpeg",
		InstallHint: installHint,
		Args:        args,
		SetExposure: v4l2ctl.SetExposure,
		GetExposure: v4l2ctl.GetExposure,
		Logger:      log,
	})
}

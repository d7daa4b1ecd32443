// Package imagesnap implements a capture device with the imagesnap command
// for macOS.
package imagesnap

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/jpegfeed"
)

// ListDevices returns all image capturing devices available to imagesnap.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]capture.DeviceInfo, error) {
	cmd := exec.Command("imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing devices with imagesnap -l: %v", err)
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]capture.DeviceInfo, error) {
	devs := []capture.DeviceInfo{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "=> ") {
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name := line[len("=> "):]
			devs = append(devs, capture.DeviceInfo{Name: name, ID: name})
		} else if strings.HasPrefix(line, "<") {
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name := strings.Split(t[1], "]")[0]
			devs = append(devs, capture.DeviceInfo{Name: name, ID: name})
		}
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devs, nil
}

func args(id string, s jpegfeed.Settings, dir string) []string {
	interval := time.Second / time.Duration(max(s.FPS, 1))
	return []string{
		"-d", id,
		"-t", fmt.Sprintf("%.2f", interval.Seconds()),
	}
}

// NewDevice returns a device capturing with imagesnap, which writes jpegs
// into its working directory at an interval. Imagesnap has no size or
// exposure control. It rarely keeps up with more than a few frames per
// second.
func NewDevice(log *zerolog.Logger) *jpegfeed.Device {
	return jpegfeed.NewDevice(jpegfeed.DeviceOpts{
		Command:     "imagesnap",
		InstallHint: "brew install imagesnap",
		Args:        args,
		Unsupported: []capture.Property{capture.Width, capture.Height},
		Logger:      log,
	})
}

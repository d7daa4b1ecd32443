// Package gstreamer implements a capture device with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/jpegfeed"
	"github.com/RocketRedNeck/BucketVision/capture/v4l2ctl"
)

const installHint = "sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps"

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

var widthRegexp = regexp.MustCompile("width=([0-9]+)[^0-9]")
var heightRegexp = regexp.MustCompile("height=([0-9]+)[^0-9]")
var framerateRegexp = regexp.MustCompile("framerate=([0-9]+)[^0-9]")

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// ListDevices returns a list of devices that can be used for capturing, with
// their raw video capabilities, closest to 640x480 first. ListDevices returns
// an error if no devices are available.
func ListDevices() ([]capture.DeviceInfo, error) {
	cmd := exec.Command("gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%v, install with: %s", err, installHint)
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err)
	}
	return parseDevices(string(buf))
}

func parseDevices(out string) ([]capture.DeviceInfo, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(strings.NewReader(out))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		if s == "" {
			continue
		}
		if s == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
			continue
		}
		if d == nil {
			continue
		}

		switch {
		case strings.HasPrefix(s, "name  :"):
			d.Name = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
		case strings.HasPrefix(s, "class :"):
			d.DeviceClass = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
		case strings.HasPrefix(s, "caps  :"):
			d.RawCaps = append(d.RawCaps, strings.TrimSpace(strings.SplitN(s, ":", 2)[1]))
			d.inCapMode = true
		case strings.HasPrefix(s, "properties:"):
			d.inCapMode = false
		case d.inCapMode:
			d.RawCaps = append(d.RawCaps, s)
		case strings.HasPrefix(s, "device.path ="):
			d.ID = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	var devs []capture.DeviceInfo
	for _, d := range r {
		if d.DeviceClass != "Video/Source" {
			continue
		}
		var caps []capture.DeviceCap
		for _, rc := range d.RawCaps {
			if !strings.HasPrefix(rc, "video/x-raw") {
				continue
			}
			mw := widthRegexp.FindStringSubmatch(rc)
			mh := heightRegexp.FindStringSubmatch(rc)
			mf := framerateRegexp.FindStringSubmatch(rc)
			if mw == nil || mh == nil || mf == nil {
				continue
			}
			width, werr := strconv.Atoi(mw[1])
			height, herr := strconv.Atoi(mh[1])
			framerate, ferr := strconv.Atoi(mf[1])
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			if width != 0 && height != 0 && framerate != 0 {
				caps = append(caps, capture.DeviceCap{
					Type:      "video/x-raw",
					Width:     width,
					Height:    height,
					Framerate: framerate,
				})
			}
		}
		if len(caps) == 0 {
			continue
		}

		distance := func(a capture.DeviceCap) int {
			return abs(a.Width-640)*abs(a.Height-480) + abs(a.Width-640) + abs(a.Height-480)
		}
		sort.SliceStable(caps, func(i, j int) bool {
			return distance(caps[i]) < distance(caps[j])
		})

		devs = append(devs, capture.DeviceInfo{ID: d.ID, Name: d.Name, Caps: caps})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	return devs, nil
}

func args(id string, s jpegfeed.Settings, dir string) []string {
	return []string{
		"-q",
		"v4l2src",
		"device=" + v4l2ctl.DevicePath(id),
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", s.Width, s.Height, s.FPS),
		"!",
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location=" + dir + "/frame%05d.jpg",
	}
}

// NewDevice returns a device capturing with gst-launch-1.0. Exposure is
// controlled with v4l2-ctl.
func NewDevice(log *zerolog.Logger) *jpegfeed.Device {
	return jpegfeed.NewDevice(jpegfeed.DeviceOpts{
		Command:     "gst-launch-1.0",
		InstallHint: installHint,
		Args:        args,
		SetExposure: v4l2ctl.SetExposure,
		GetExposure: v4l2ctl.GetExposure,
		Logger:      log,
	})
}

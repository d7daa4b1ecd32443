package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/ffmpeg"
	"github.com/RocketRedNeck/BucketVision/capture/gstreamer"
	"github.com/RocketRedNeck/BucketVision/capture/imagesnap"
	"github.com/RocketRedNeck/BucketVision/capture/v4l2ctl"
	"github.com/RocketRedNeck/BucketVision/config"
)

func doDevices(cmd *cobra.Command, args []string) error {
	var listFn func() ([]capture.DeviceInfo, error)
	switch cfg.Driver {
	case config.DriverImagesnap:
		listFn = imagesnap.ListDevices
	case config.DriverGStreamer:
		listFn = gstreamer.ListDevices
	case config.DriverFFmpeg:
		listFn = ffmpeg.ListDevices
	default:
		// cvcam and v4l open V4L2 devices by index or path.
		listFn = v4l2ctl.ListDevices
	}

	devs, err := listFn()
	if err != nil {
		return fmt.Errorf("listing devices: %v", err)
	}
	out := cmd.OutOrStdout()
	for _, dev := range devs {
		caps := ""
		if len(dev.Caps) > 0 {
			l := []string{}
			for _, c := range dev.Caps {
				l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
			}
			caps = fmt.Sprintf(" (caps: %s)", strings.Join(l, " "))
		}
		fmt.Fprintf(out, "%s: %s%s\n", dev.ID, dev.Name, caps)
	}
	return nil
}

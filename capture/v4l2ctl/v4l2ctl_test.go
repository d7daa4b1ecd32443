package v4l2ctl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RocketRedNeck/BucketVision/capture"
)

func TestParseDevices(t *testing.T) {
	const out = `bcm2835-codec-decode (platform:bcm2835-codec):
	/dev/video10
	/dev/video11

HD Pro Webcam C920 (usb-0000:01:00.0-1.2):
	/dev/video0
	/dev/video1
	/dev/media3

Microsoft LifeCam HD-3000 (usb-0000:01:00.0-1.3):
	/dev/video2
`
	devs, err := parseDevices(out)
	require.NoError(t, err)
	require.Equal(t, []capture.DeviceInfo{
		{Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video0)", ID: "/dev/video0"},
		{Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video1)", ID: "/dev/video1"},
		{Name: "Microsoft LifeCam HD-3000 (usb-0000:01:00.0-1.3) (/dev/video2)", ID: "/dev/video2"},
	}, devs)

	_, err = parseDevices("bcm2835-isp (platform:bcm2835-isp):\n\t/dev/video13\n")
	require.Error(t, err)
}

func TestParseControl(t *testing.T) {
	v, err := parseControl("exposure_absolute: 156\n", "exposure_absolute")
	require.NoError(t, err)
	require.Equal(t, 156, v)

	_, err = parseControl("exposure_auto: 3\n", "exposure_absolute")
	require.Error(t, err)

	_, err = parseControl("exposure_absolute: lots\n", "exposure_absolute")
	require.Error(t, err)
}

func TestDevicePath(t *testing.T) {
	require.Equal(t, "/dev/video1", DevicePath("1"))
	require.Equal(t, "/dev/video3", DevicePath("/dev/video3"))
}

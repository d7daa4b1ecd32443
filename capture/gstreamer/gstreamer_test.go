package gstreamer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/jpegfeed"
)

func TestParseDevices(t *testing.T) {
	const out = `Probing devices...

Device found:

	name  : HD Pro Webcam C920
	class : Video/Source
	caps  : video/x-raw, format=YUY2, width=1920, height=1080, framerate=5/1;
	        video/x-raw, format=YUY2, width=640, height=480, framerate=30/1;
	        video/x-raw, format=YUY2, width=320, height=240, framerate=30/1;
	        image/jpeg, width=1280, height=720, framerate=30/1;
	properties:
		device.path = /dev/video0
		udev-probed = true

Device found:

	name  : Built-in Audio
	class : Audio/Source
	caps  : audio/x-raw, format=S16LE, rate=44100, channels=2;
	properties:
		device.path = hw:0
`
	devs, err := parseDevices(out)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	require.Equal(t, "/dev/video0", devs[0].ID)
	require.Equal(t, "HD Pro Webcam C920", devs[0].Name)
	require.Equal(t, []capture.DeviceCap{
		{Type: "video/x-raw", Width: 640, Height: 480, Framerate: 30},
		{Type: "video/x-raw", Width: 320, Height: 240, Framerate: 30},
		{Type: "video/x-raw", Width: 1920, Height: 1080, Framerate: 5},
	}, devs[0].Caps)

	_, err = parseDevices("Probing devices...\n")
	require.Error(t, err)
}

func TestArgs(t *testing.T) {
	a := strings.Join(args("0", jpegfeed.Settings{Width: 640, Height: 480, FPS: 30}, "/tmp/x"), " ")
	require.Contains(t, a, "device=/dev/video0")
	require.Contains(t, a, "video/x-raw,width=640,height=480,framerate=30/1")
	require.Contains(t, a, "location=/tmp/x/frame%05d.jpg")
}

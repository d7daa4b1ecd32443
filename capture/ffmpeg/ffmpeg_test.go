package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RocketRedNeck/BucketVision/capture/jpegfeed"
)

func TestArgs(t *testing.T) {
	a := strings.Join(args("1", jpegfeed.Settings{Width: 320, Height: 240, FPS: 15}, "/tmp/x"), " ")
	require.Contains(t, a, "-i /dev/video1")
	require.Contains(t, a, "-video_size 320x240")
	require.Contains(t, a, "-framerate 15")
	require.True(t, strings.HasSuffix(a, "/tmp/x/frame%d.jpg"), a)
}

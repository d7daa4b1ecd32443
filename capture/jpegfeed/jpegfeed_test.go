package jpegfeed_test

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/jpegfeed"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeJPEG(t *testing.T, dir, name string, level uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	// Write elsewhere and rename, like a well-behaved capture process.
	tmp := filepath.Join(t.TempDir(), name)
	fp, err := os.Create(tmp)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(fp, img, nil))
	require.NoError(t, fp.Close())
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestFeed(t *testing.T) {
	dir := t.TempDir()
	feed, err := jpegfeed.New(dir, &jpegfeed.Opts{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer feed.Close()

	_, err = feed.Next()
	require.ErrorIs(t, err, capture.ErrNoFrame)

	writeJPEG(t, dir, "test1.jpg", 200)
	var img image.Image
	require.Eventually(t, func() bool {
		img, err = feed.Next()
		return err == nil
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 16, img.Bounds().Dx())
	g := color.GrayModel.Convert(img.At(8, 8)).(color.Gray).Y
	require.InDelta(t, 200, int(g), 4)

	// Decoded files are removed.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "test1.jpg"))
		return os.IsNotExist(err)
	}, 5*time.Second, time.Millisecond)

	// Non-jpeg files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	_, err = feed.Next()
	require.ErrorIs(t, err, capture.ErrNoFrame)

	require.NoError(t, feed.Close())
	_, err = feed.Next()
	require.ErrorIs(t, err, capture.ErrDeviceClosed)
}

func TestProcess(t *testing.T) {
	src := filepath.Join(t.TempDir(), "frame.jpg")
	writeJPEG(t, filepath.Dir(src), "frame.jpg", 90)

	proc, err := jpegfeed.StartProcess("sh", func(dir string) []string {
		return []string{"-c", `cp "$0" "$1" && exec sleep 30`, src, filepath.Join(dir, "out.jpg")}
	}, &jpegfeed.ProcessOpts{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	dir := proc.Dir()

	var img image.Image
	require.Eventually(t, func() bool {
		img, err = proc.Next()
		return err == nil
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 16, img.Bounds().Dy())

	require.NoError(t, proc.Close())
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err), "temp dir not removed")
}

func TestProcessNotFound(t *testing.T) {
	_, err := jpegfeed.StartProcess("bucketvision-no-such-tool", func(string) []string { return nil }, &jpegfeed.ProcessOpts{InstallHint: "apt install magic"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "apt install magic")
}

func TestDevice(t *testing.T) {
	src := filepath.Join(t.TempDir(), "frame.jpg")
	writeJPEG(t, filepath.Dir(src), "frame.jpg", 30)

	var started []jpegfeed.Settings
	dev := jpegfeed.NewDevice(jpegfeed.DeviceOpts{
		Command: "sh",
		Args: func(id string, s jpegfeed.Settings, dir string) []string {
			started = append(started, s)
			return []string{"-c", `cp "$0" "$1" && exec sleep 30`, src, filepath.Join(dir, id+".jpg")}
		},
		Unsupported: []capture.Property{capture.Height},
		Timeout:     20 * time.Millisecond,
	})

	_, err := dev.Read()
	require.ErrorIs(t, err, capture.ErrDeviceClosed)
	require.ErrorIs(t, dev.Set(capture.Width, 320), capture.ErrDeviceClosed)

	require.NoError(t, dev.Open("cam0"))
	defer dev.Close()
	require.Eventually(t, func() bool {
		_, err := dev.Read()
		return err == nil
	}, 5*time.Second, time.Millisecond)

	require.ErrorIs(t, dev.Set(capture.Height, 240), capture.ErrUnsupported)
	require.ErrorIs(t, dev.Set(capture.Exposure, 3), capture.ErrUnsupported)

	// Changing the size restarts the process with the new settings.
	require.NoError(t, dev.Set(capture.Width, 320))
	w, err := dev.Get(capture.Width)
	require.NoError(t, err)
	require.Equal(t, 320.0, w)
	require.Len(t, started, 2)
	require.Equal(t, 320, started[1].Width)

	// Same value, no restart.
	require.NoError(t, dev.Set(capture.Width, 320))
	require.Len(t, started, 2)

	require.Eventually(t, func() bool {
		_, err := dev.Read()
		return err == nil
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, dev.Close())
	_, err = dev.Read()
	require.ErrorIs(t, err, capture.ErrDeviceClosed)
}

package publish_test

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RocketRedNeck/BucketVision/publish"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 100, 50, 255
	}
	return img
}

func TestCodec(t *testing.T) {
	buf, err := publish.Encode(testImage(1280, 720), &publish.EncodeOpts{MaxWidth: 640, MaxHeight: 480})
	require.NoError(t, err)
	img, err := publish.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, image.Pt(640, 360), img.Bounds().Size())

	r, g, b, _ := img.At(10, 10).RGBA()
	c := color.NRGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}
	require.InDelta(t, 200, int(c.R), 6)
	require.InDelta(t, 100, int(c.G), 6)
	require.InDelta(t, 50, int(c.B), 6)

	// Small frames are not scaled.
	buf, err = publish.Encode(testImage(320, 240), &publish.EncodeOpts{MaxWidth: 640, MaxHeight: 480})
	require.NoError(t, err)
	img, err = publish.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, image.Pt(320, 240), img.Bounds().Size())

	_, err = publish.Decode([]byte("not a jpeg"))
	require.Error(t, err)
}

func TestPublishWithoutViewer(t *testing.T) {
	pub, err := publish.NewPublisher(&publish.PublisherOpts{Host: "127.0.0.1", Port: 45931})
	require.NoError(t, err)
	defer pub.Close()

	// Nobody listens, publishing must neither block nor fail.
	for i := 0; i < 10; i++ {
		require.NoError(t, pub.Publish(testImage(32, 24)))
	}
}

func TestPublishSubscribe(t *testing.T) {
	const port = 45932
	sub, err := publish.NewSubscriber(&publish.SubscriberOpts{Port: port, PollTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sub.Close()

	pub, err := publish.NewPublisher(&publish.PublisherOpts{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer pub.Close()
	require.Equal(t, "tcp://127.0.0.1:45932", pub.Endpoint())

	// The first frames are lost while connecting.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan image.Image, 1)
	go func() {
		img, err := sub.Receive(ctx)
		if err == nil {
			got <- img
		}
		close(got)
	}()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, pub.Publish(testImage(64, 48)))
		select {
		case img, ok := <-got:
			require.True(t, ok, "no frame received")
			require.Equal(t, image.Pt(64, 48), img.Bounds().Size())
			sent, _ := pub.Stats()
			require.NotZero(t, sent)
			return
		case <-tick.C:
		}
	}
}

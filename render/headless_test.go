package render_test

import (
	"image"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RocketRedNeck/BucketVision/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHeadless(t *testing.T) {
	h := render.NewHeadless(strings.NewReader("r\nt 1\nq"), &render.HeadlessOpts{LogEvery: 2})
	defer h.Close()

	var keys []rune
	for len(keys) < 4 {
		k, ok := h.PollKey(5 * time.Second)
		require.True(t, ok, "missing key after %q", string(keys))
		keys = append(keys, k)
	}
	require.Equal(t, "rt1q", string(keys))

	_, ok := h.PollKey(0)
	require.False(t, ok)
	_, ok = h.PollKey(time.Millisecond)
	require.False(t, ok)

	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Show(img))
	}
	require.Equal(t, uint64(3), h.Shown())
}

func TestHeadlessNoInput(t *testing.T) {
	h := render.NewHeadless(nil, nil)
	_, ok := h.PollKey(time.Millisecond)
	require.False(t, ok)
	require.NoError(t, h.Close())
}

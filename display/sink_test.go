package display_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/display"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type feed struct {
	name string
	mu   sync.Mutex
	seq  uint64
	next *bucketvision.Result
}

func (f *feed) put() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.next = &bucketvision.Result{Frame: bucketvision.Frame{Seq: f.seq}, Stage: f.name}
	return f.seq
}

func (f *feed) TryTakeResult() (*bucketvision.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.next
	f.next = nil
	return r, r != nil
}

func startSink(t *testing.T, feeds map[string]display.Feed, initial string, opts *display.SinkOpts) *display.Sink {
	t.Helper()
	s, err := display.NewSink(feeds, initial, opts)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Lifecycle().WaitRunning(context.Background()))
	t.Cleanup(func() {
		s.Stop()
		<-s.Lifecycle().Done()
	})
	return s
}

func TestSinkCount(t *testing.T) {
	front := &feed{name: "front"}
	var mu sync.Mutex
	var shown []uint64
	s := startSink(t, map[string]display.Feed{"front": front}, "front", &display.SinkOpts{
		OnShow: func(sh display.Shown) {
			mu.Lock()
			shown = append(shown, sh.Count)
			mu.Unlock()
		},
	})

	_, ok := s.Latest()
	require.False(t, ok)

	const n = 25
	for i := 0; i < n; i++ {
		seq := front.put()
		require.Eventually(t, func() bool {
			sh, ok := s.Latest()
			return ok && sh.Result.Seq() == seq
		}, 5*time.Second, 100*time.Microsecond)
	}
	require.Equal(t, uint64(n), s.Count())

	sh, _ := s.Latest()
	require.Equal(t, uint64(n), sh.Count)
	require.Equal(t, "front", sh.Mode)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, shown, n)
	for i, c := range shown {
		require.Equal(t, uint64(i+1), c)
	}
}

func TestSinkNoBleed(t *testing.T) {
	front := &feed{name: "front"}
	back := &feed{name: "back"}
	s := startSink(t, map[string]display.Feed{"frontCam": front, "backCam": back}, "frontCam", nil)
	require.Equal(t, []string{"backCam", "frontCam"}, s.Modes())

	// Both feeds produce all the time.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, f := range []*feed{front, back} {
		wg.Add(1)
		go func(f *feed) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				f.put()
				time.Sleep(20 * time.Microsecond)
			}
		}(f)
	}
	defer func() {
		close(stop)
		wg.Wait()
	}()

	require.Eventually(t, func() bool { return s.Count() > 10 }, 5*time.Second, 100*time.Microsecond)

	for i := 0; i < 20; i++ {
		want := []string{"backCam", "frontCam"}[i%2]
		require.NoError(t, s.SetMode(want))
		mode, _ := s.Selected()
		require.Equal(t, want, mode)

		deadline := time.Now().Add(20 * time.Millisecond)
		for time.Now().Before(deadline) {
			if sh, ok := s.Latest(); ok {
				require.Equal(t, want, sh.Mode, "frame of previous mode shown after switch")
				require.Equal(t, map[string]string{"backCam": "back", "frontCam": "front"}[want], sh.Result.Stage)
			}
		}
	}

	require.ErrorIs(t, s.SetMode("sideCam"), display.ErrUnknownMode)
	require.Equal(t, "frontCam", s.Mode())
}

func TestSinkUnknownInitial(t *testing.T) {
	_, err := display.NewSink(map[string]display.Feed{"front": &feed{}}, "back", nil)
	require.ErrorIs(t, err, display.ErrUnknownMode)
}

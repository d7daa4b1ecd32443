package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/internal/fakecam"
	"github.com/RocketRedNeck/BucketVision/paramstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startSource(t *testing.T, dev capture.Device, opts capture.SourceOpts) *capture.Source {
	t.Helper()
	src := capture.NewSource(dev, opts)
	require.NoError(t, src.Start())
	t.Cleanup(func() {
		src.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, src.Lifecycle().WaitStopped(ctx))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, src.Lifecycle().WaitRunning(ctx))
	return src
}

func TestSourceFrames(t *testing.T) {
	dev := &fakecam.Device{}
	src := startSource(t, dev, capture.SourceOpts{Name: "front", DeviceID: "0"})
	require.ErrorIs(t, src.Start(), bucketvision.ErrAlreadyStarted)

	var last uint64
	for n := 0; n < 20; {
		f, ok := src.TryTakeLatest()
		if !ok {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		require.Greater(t, f.Seq, last, "sequence must increase")
		require.NotNil(t, f.Image)
		last = f.Seq
		n++
	}

	// Consumed frames are not returned twice.
	f, ok := src.TryTakeLatest()
	if ok {
		require.Greater(t, f.Seq, last)
	}
	peek, ok := src.Latest()
	require.True(t, ok)
	require.GreaterOrEqual(t, peek.Seq, last)

	src.Stop()
	require.NoError(t, src.Lifecycle().WaitStopped(context.Background()))
	require.True(t, src.IsStopped())
	require.True(t, dev.Closed(), "device must be closed before the source is stopped")
}

func TestSourceInitialConfig(t *testing.T) {
	dev := &fakecam.Device{}
	store := paramstore.NewMemory(nil)
	src := capture.NewSource(dev, capture.SourceOpts{
		Name:     "back",
		DeviceID: "1",
		Config:   bucketvision.DeviceConfig{Width: 320, Height: 240, Exposure: -5},
		Store:    store,
	})
	require.NoError(t, src.SetFPS(15))
	require.NoError(t, src.Start())
	defer func() {
		src.Stop()
		<-src.Lifecycle().Done()
	}()
	require.NoError(t, src.Lifecycle().WaitRunning(context.Background()))

	for p, want := range map[capture.Property]float64{
		capture.Width:     320,
		capture.Height:    240,
		capture.Exposure:  -5,
		capture.FrameRate: 15,
	} {
		got, ok := dev.Prop(p)
		require.True(t, ok, "property %s not applied", p)
		require.Equal(t, want, got, "property %s", p)
	}
	v, err := store.Get("Exposure")
	require.NoError(t, err)
	require.Equal(t, "-5", v)
	v, err = store.Get("Status")
	require.NoError(t, err)
	require.Equal(t, "Running", v)
}

func TestSourceOpenFailure(t *testing.T) {
	dev := &fakecam.Device{OpenErr: errors.New("no such camera")}
	store := paramstore.NewMemory(nil)
	src := capture.NewSource(dev, capture.SourceOpts{Name: "front", DeviceID: "7", Store: store})
	require.NoError(t, src.Start())

	err := src.Lifecycle().WaitRunning(context.Background())
	require.ErrorIs(t, err, bucketvision.ErrStopped)
	require.True(t, src.IsStopped())

	st := src.Status()
	var oerr *bucketvision.DeviceOpenError
	require.True(t, errors.As(st.Err, &oerr), "got %v", st.Err)
	require.Equal(t, "7", oerr.Device)
	require.Zero(t, st.Frames)

	_, ok := src.TryTakeLatest()
	require.False(t, ok)

	status, err := store.Get("Status")
	require.NoError(t, err)
	require.Contains(t, status, "Failed to open camera 7")

	// Settings on a device that never opened fail without blocking.
	var cerr *bucketvision.DeviceConfigError
	require.True(t, errors.As(src.SetExposure(3), &cerr))
	require.ErrorIs(t, cerr, capture.ErrDeviceClosed)
}

func TestSourceConfigFailure(t *testing.T) {
	dev := &fakecam.Device{SetErrs: map[capture.Property]error{capture.FrameRate: capture.ErrUnsupported}}
	src := startSource(t, dev, capture.SourceOpts{Name: "front", Config: bucketvision.DeviceConfig{Exposure: -1}})
	before := src.Config()

	err := src.SetFPS(60)
	var cerr *bucketvision.DeviceConfigError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	require.Equal(t, "FPS", cerr.Property)
	require.ErrorIs(t, err, capture.ErrUnsupported)
	require.Equal(t, before.FPS, src.Config().FPS, "previous value must be kept")

	require.NoError(t, src.SetExposure(-3))
	require.Equal(t, -3, src.Config().Exposure)

	// Capture carries on.
	n := src.Status().Frames
	require.Eventually(t, func() bool { return src.Status().Frames > n }, 5*time.Second, time.Millisecond)
}

func TestSourceExposureOverride(t *testing.T) {
	dev := &fakecam.Device{}
	store := paramstore.NewMemory(nil)
	src := startSource(t, dev, capture.SourceOpts{Name: "front", Config: bucketvision.DeviceConfig{Exposure: -1}, Store: store})

	require.NoError(t, store.Put("Exposure", "-7"))
	require.Eventually(t, func() bool {
		v, _ := dev.Prop(capture.Exposure)
		return v == -7
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, -7, src.Config().Exposure)

	// Garbage in the store is not an override.
	require.NoError(t, store.Put("Exposure", "bright"))
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, -7, src.Config().Exposure)
}

func TestSourceNoFrameReady(t *testing.T) {
	dev := &fakecam.Device{NoFrames: true}
	src := startSource(t, dev, capture.SourceOpts{Name: "front", IdlePoll: 2 * time.Millisecond})

	time.Sleep(50 * time.Millisecond)
	// A read every IdlePoll at most, not a spinning loop.
	require.Less(t, dev.Reads(), uint64(100))
	require.NotZero(t, dev.Reads())

	st := src.Status()
	require.Equal(t, bucketvision.Running, st.State)
	require.Zero(t, st.Fails, "no frame ready is not a failed read")
	require.Zero(t, st.Frames)
}

// heldStore holds reads of the exposure until release is closed.
type heldStore struct {
	paramstore.Store
	asked   chan struct{}
	release chan struct{}
}

func (s *heldStore) Get(key string) (string, error) {
	if key == capture.Exposure.String() {
		select {
		case s.asked <- struct{}{}:
		default:
		}
		<-s.release
	}
	return s.Store.Get(key)
}

func TestSourceOpenStoreOutsideDeviceLock(t *testing.T) {
	dev := &fakecam.Device{}
	store := &heldStore{Store: paramstore.NewMemory(nil), asked: make(chan struct{}, 1), release: make(chan struct{})}
	require.NoError(t, store.Put("Exposure", "-4"))

	src := capture.NewSource(dev, capture.SourceOpts{Name: "front", Config: bucketvision.DeviceConfig{Exposure: -1}, Store: store})
	require.NoError(t, src.Start())
	released := false
	defer func() {
		if !released {
			close(store.release)
		}
		src.Stop()
		<-src.Lifecycle().Done()
	}()

	select {
	case <-store.asked:
	case <-time.After(5 * time.Second):
		t.Fatal("exposure never read from the store")
	}

	// The store is slow, the device lock must not be held meanwhile.
	got := make(chan bucketvision.DeviceConfig, 1)
	go func() { got <- src.Config() }()
	select {
	case cfg := <-got:
		require.Equal(t, -1, cfg.Exposure)
	case <-time.After(time.Second):
		t.Fatal("Config blocked while the store was read")
	}

	close(store.release)
	released = true
	require.NoError(t, src.Lifecycle().WaitRunning(context.Background()))
	require.Equal(t, -4, src.Config().Exposure)
	v, ok := dev.Prop(capture.Exposure)
	require.True(t, ok)
	require.Equal(t, float64(-4), v)
}

func TestProcessUserCommand(t *testing.T) {
	dev := &fakecam.Device{}
	src := startSource(t, dev, capture.SourceOpts{Name: "front", Config: bucketvision.DeviceConfig{Exposure: -1, FPS: 2}})

	require.True(t, src.ProcessUserCommand('+'))
	require.Equal(t, 0, src.Config().Exposure)
	require.True(t, src.ProcessUserCommand('_'))
	require.True(t, src.ProcessUserCommand('-'))
	require.Equal(t, -2, src.Config().Exposure)

	require.True(t, src.ProcessUserCommand('['))
	require.Equal(t, 1, src.Config().FPS)
	require.True(t, src.ProcessUserCommand('['))
	require.Equal(t, 1, src.Config().FPS)
	require.True(t, src.ProcessUserCommand(']'))
	require.Equal(t, 2, src.Config().FPS)

	require.False(t, src.ProcessUserCommand('x'))
}

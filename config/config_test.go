package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/config"
)

const pitConfig = `
driver: ffmpeg
cameras:
  - name: left
    device: /dev/video2
    stage: balls
    exposure: 10
  - name: right
    device: /dev/video3
    stage: faces
    width: 320
    height: 240
    fps: 15
stages: [nada, balls, faces]
display:
  initial: right
  headless: true
publish:
  ip: 10.0.0.5
  port: 5800
store:
  kind: mqtt
  broker: roborio:1883
timeouts:
  start: 2s
`

func parse(t *testing.T, yaml string) (config.Config, error) {
	t.Helper()
	v := config.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return config.Parse(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := config.Parse(config.New())
	require.NoError(t, err)

	require.Equal(t, config.DriverCV, cfg.Driver)
	require.Len(t, cfg.Cameras, 2)
	require.Equal(t, config.Camera{
		Name:         "frontCam",
		Device:       "0",
		Stage:        config.StageNada,
		DeviceConfig: bucketvision.DeviceConfig{Width: 640, Height: 480, Exposure: -1, FPS: 30},
	}, cfg.Cameras[0])
	require.Equal(t, "backCam", cfg.Cameras[1].Name)
	require.Equal(t, "1", cfg.Cameras[1].Device)
	require.Equal(t, config.StageBalls, cfg.Cameras[1].Stage)
	require.Equal(t, -5, cfg.Cameras[1].Exposure)
	require.Equal(t, []string{"nada", "faces", "balls"}, cfg.Stages)
	require.Equal(t, "frontCam", cfg.Display.Initial)
	require.Equal(t, "BucketVision.avi", cfg.Record.File)
	require.Equal(t, "MJPG", cfg.Record.Codec)
	require.Equal(t, "localhost", cfg.Publish.IP)
	require.Equal(t, 5555, cfg.Publish.Port)
	require.Equal(t, config.StoreNone, cfg.Store.Kind)
	require.Equal(t, 5*time.Second, cfg.Timeouts.Start)
}

func TestParse(t *testing.T) {
	cfg, err := parse(t, pitConfig)
	require.NoError(t, err)

	require.Equal(t, config.DriverFFmpeg, cfg.Driver)
	left, ok := cfg.Camera("left")
	require.True(t, ok)
	require.Equal(t, "/dev/video2", left.Device)
	require.Equal(t, bucketvision.DeviceConfig{Width: 640, Height: 480, Exposure: 10, FPS: 30}, left.DeviceConfig)

	right, ok := cfg.Camera("right")
	require.True(t, ok)
	require.Equal(t, bucketvision.DeviceConfig{Width: 320, Height: 240, Exposure: 0, FPS: 15}, right.DeviceConfig)

	_, ok = cfg.Camera("frontCam")
	require.False(t, ok)

	require.True(t, cfg.Display.Headless)
	require.Equal(t, "10.0.0.5", cfg.Publish.IP)
	require.Equal(t, 5800, cfg.Publish.Port)
	require.Equal(t, config.StoreMQTT, cfg.Store.Kind)
	require.Equal(t, "roborio:1883", cfg.Store.Broker)
	require.Equal(t, "bucketvision", cfg.Store.Topic)
	require.Equal(t, 2*time.Second, cfg.Timeouts.Start)
	require.Equal(t, 5*time.Second, cfg.Timeouts.Stop)
}

func TestEnv(t *testing.T) {
	// can't be parallel, touches the environment
	t.Setenv("BUCKETVISION_PUBLISH_PORT", "5801")
	t.Setenv("BUCKETVISION_DRIVER", "v4l")

	cfg, err := config.Parse(config.New())
	require.NoError(t, err)
	require.Equal(t, 5801, cfg.Publish.Port)
	require.Equal(t, config.DriverV4L, cfg.Driver)
}

func TestInvalid(t *testing.T) {
	tcs := []struct {
		name, yaml, err string
	}{
		{"driver", "driver: vhs", `unknown driver "vhs"`},
		{"stage", "stages: [nada, sparkles]", `unknown stage "sparkles"`},
		{"model", "stages: [nada, model]", `needs model.path`},
		{"store", "store: {kind: redis}", `unknown parameter store "redis"`},
		{"camera stage", "stages: [nada]", `camera "backCam": stage "balls" not in stages`},
		{"duplicate", "cameras: [{name: a, stage: nada}, {name: a, stage: nada}]", `duplicate camera "a"`},
		{"initial", "display: {initial: sideCam}", `display.initial "sideCam" is not a camera`},
		{"port", "publish: {port: 70000}", `invalid publish port 70000`},
		{"resolution", "cameras: [{name: frontCam, stage: nada, width: -1}]", `invalid resolution`},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse(t, tc.yaml)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pitConfig), 0o644))

	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)
	require.Equal(t, "right", cfg.Display.Initial)

	_, err = config.Load(config.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

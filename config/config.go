// Package config loads the pipeline configuration from an optional YAML
// file, BUCKETVISION_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	bucketvision "github.com/RocketRedNeck/BucketVision"
)

// Drivers that can be configured for the cameras.
const (
	DriverCV        = "cvcam"
	DriverV4L       = "v4l"
	DriverFFmpeg    = "ffmpeg"
	DriverGStreamer = "gstreamer"
	DriverImagesnap = "imagesnap"
)

// Stages that can be configured. StageModel needs Model.Path.
const (
	StageNada  = "nada"
	StageFaces = "faces"
	StageBalls = "balls"
	StageModel = "model"
)

// Parameter store kinds.
const (
	StoreNone = "none"
	StoreFile = "file"
	StoreMQTT = "mqtt"
)

// EnvPrefix is the prefix of environment variables overriding settings, eg
// BUCKETVISION_PUBLISH_PORT.
const EnvPrefix = "BUCKETVISION"

// Camera is a capture device and the stage its runner starts with.
type Camera struct {
	Name   string `mapstructure:"name"`
	Device string `mapstructure:"device"`
	Stage  string `mapstructure:"stage"`

	bucketvision.DeviceConfig `mapstructure:",squash"`
}

// Config is the complete pipeline configuration.
type Config struct {
	Verbose bool   `mapstructure:"verbose"`
	JSON    bool   `mapstructure:"json"`
	Driver  string `mapstructure:"driver"`

	Cameras []Camera `mapstructure:"cameras"`

	// Stages available to every runner.
	Stages []string `mapstructure:"stages"`

	Display struct {
		Initial  string `mapstructure:"initial"`
		Headless bool   `mapstructure:"headless"`
		Title    string `mapstructure:"title"`
	} `mapstructure:"display"`

	Record struct {
		Enabled bool   `mapstructure:"enabled"` // Record from the start.
		File    string `mapstructure:"file"`
		Codec   string `mapstructure:"codec"`
	} `mapstructure:"record"`

	Publish struct {
		Enabled bool   `mapstructure:"enabled"` // Stream from the start.
		IP      string `mapstructure:"ip"`
		Port    int    `mapstructure:"port"`
		Quality int    `mapstructure:"quality"`
		Width   int    `mapstructure:"width"` // Maximum streamed width, 0 for full size.
	} `mapstructure:"publish"`

	Store struct {
		Kind   string `mapstructure:"kind"`
		Path   string `mapstructure:"path"`   // File store.
		Broker string `mapstructure:"broker"` // MQTT store.
		Topic  string `mapstructure:"topic"`
	} `mapstructure:"store"`

	Faces struct {
		Cascade string `mapstructure:"cascade"`
	} `mapstructure:"faces"`

	Model struct {
		Path   string `mapstructure:"path"`
		Smooth int    `mapstructure:"smooth"` // Classifications averaged, 0 for raw scores.
	} `mapstructure:"model"`

	Timeouts struct {
		Start time.Duration `mapstructure:"start"`
		Stop  time.Duration `mapstructure:"stop"`
	} `mapstructure:"timeouts"`
}

// New returns a viper instance holding the defaults, reading overrides from
// the environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("verbose", false)
	v.SetDefault("json", false)
	v.SetDefault("driver", DriverCV)
	v.SetDefault("cameras", []map[string]interface{}{
		{"name": "frontCam", "device": "0", "stage": StageNada, "width": 640, "height": 480, "fps": 30, "exposure": -1},
		{"name": "backCam", "device": "1", "stage": StageBalls, "width": 640, "height": 480, "fps": 30, "exposure": -5},
	})
	v.SetDefault("stages", []string{StageNada, StageFaces, StageBalls})
	v.SetDefault("display.initial", "frontCam")
	v.SetDefault("display.headless", false)
	v.SetDefault("display.title", "BucketVision")
	v.SetDefault("record.enabled", false)
	v.SetDefault("record.file", "BucketVision.avi")
	v.SetDefault("record.codec", "MJPG")
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.ip", "localhost")
	v.SetDefault("publish.port", 5555)
	v.SetDefault("publish.quality", 80)
	v.SetDefault("publish.width", 0)
	v.SetDefault("store.kind", StoreNone)
	v.SetDefault("store.path", "bucketvision-params.yaml")
	v.SetDefault("store.broker", "localhost:1883")
	v.SetDefault("store.topic", "bucketvision")
	v.SetDefault("faces.cascade", "")
	v.SetDefault("model.path", "")
	v.SetDefault("model.smooth", 0)
	v.SetDefault("timeouts.start", 5*time.Second)
	v.SetDefault("timeouts.stop", 5*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and parses the result. Without a
// path, bucketvision.yaml in the current directory is read if it exists.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bucketvision")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %v", err)
		}
	}
	return Parse(v)
}

// Parse unmarshals and validates the configuration held by v.
func Parse(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %v", err)
	}
	for i := range c.Cameras {
		c.Cameras[i].DeviceConfig = c.Cameras[i].DeviceConfig.WithDefaults()
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration is consistent.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverCV, DriverV4L, DriverFFmpeg, DriverGStreamer, DriverImagesnap:
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	switch c.Store.Kind {
	case StoreNone, StoreFile, StoreMQTT, "":
	default:
		return fmt.Errorf("unknown parameter store %q", c.Store.Kind)
	}

	stages := map[string]bool{}
	for _, s := range c.Stages {
		switch s {
		case StageNada, StageFaces, StageBalls:
		case StageModel:
			if c.Model.Path == "" {
				return fmt.Errorf("stage %q needs model.path", s)
			}
		default:
			return fmt.Errorf("unknown stage %q", s)
		}
		stages[s] = true
	}

	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}
	if len(c.Cameras) > 10 {
		return fmt.Errorf("%d cameras configured, at most 10 can be selected", len(c.Cameras))
	}
	names := map[string]bool{}
	for _, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("camera with device %q has no name", cam.Device)
		}
		if names[cam.Name] {
			return fmt.Errorf("duplicate camera %q", cam.Name)
		}
		names[cam.Name] = true
		if !stages[cam.Stage] {
			return fmt.Errorf("camera %q: stage %q not in stages", cam.Name, cam.Stage)
		}
		if err := cam.DeviceConfig.Validate(); err != nil {
			return fmt.Errorf("camera %q: %v", cam.Name, err)
		}
	}
	if !names[c.Display.Initial] {
		return fmt.Errorf("display.initial %q is not a camera", c.Display.Initial)
	}
	if c.Publish.Port <= 0 || c.Publish.Port > 65535 {
		return fmt.Errorf("invalid publish port %d", c.Publish.Port)
	}
	return nil
}

// Camera returns the named camera.
func (c Config) Camera(name string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return Camera{}, false
}

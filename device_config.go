package bucketvision

import (
	"fmt"
)

// DeviceConfig holds the settings applied to a capture device.
type DeviceConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`

	// Exposure has driver defined semantics. Negative values commonly
	// select automatic exposure or a device specific preset.
	Exposure int `mapstructure:"exposure" yaml:"exposure"`

	// Target capture rate in frames per second.
	FPS int `mapstructure:"fps" yaml:"fps"`
}

// DefaultDeviceConfig is used for fields left zero in a configuration.
var DefaultDeviceConfig = DeviceConfig{
	Width:    640,
	Height:   480,
	Exposure: -1,
	FPS:      30,
}

// WithDefaults returns c with zero width, height and fps replaced by the
// values of DefaultDeviceConfig. Exposure 0 is a valid setting and is kept.
func (c DeviceConfig) WithDefaults() DeviceConfig {
	if c.Width == 0 {
		c.Width = DefaultDeviceConfig.Width
	}
	if c.Height == 0 {
		c.Height = DefaultDeviceConfig.Height
	}
	if c.FPS == 0 {
		c.FPS = DefaultDeviceConfig.FPS
	}
	return c
}

// Validate checks that the configuration can be applied to a device.
func (c DeviceConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", c.FPS)
	}
	return nil
}

// String returns a human-readable summary of the configuration.
func (c DeviceConfig) String() string {
	return fmt.Sprintf("%dx%d@%dfps exposure %d", c.Width, c.Height, c.FPS, c.Exposure)
}

// Package v4l2ctl lists V4L2 cameras and changes their controls with the
// v4l2-ctl tool, for drivers without native control of exposure.
package v4l2ctl

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/RocketRedNeck/BucketVision/capture"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y v4l-utils")

// Control names, for kernels before and after the 5.x rename.
var (
	autoExposureControls     = []string{"auto_exposure", "exposure_auto"}
	absoluteExposureControls = []string{"exposure_time_absolute", "exposure_absolute"}
)

// V4L2 auto_exposure menu values.
const (
	exposureManual           = 1
	exposureAperturePriority = 3
)

func run(args ...string) (string, error) {
	cmd := exec.Command("v4l2-ctl", args...)
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		} else if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			err = fmt.Errorf("%v: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("v4l2-ctl %s: %v", strings.Join(args, " "), err)
	}
	return string(buf), nil
}

// ListDevices returns the cameras reported by v4l2-ctl --list-devices. The
// ID of each device is its /dev/video path. ListDevices returns an error if no
// devices are available.
func ListDevices() ([]capture.DeviceInfo, error) {
	out, err := run("--list-devices")
	if err != nil {
		return nil, fmt.Errorf("listing devices: %v", err)
	}
	return parseDevices(out)
}

func parseDevices(s string) ([]capture.DeviceInfo, error) {
	var curDevice string
	devices := []capture.DeviceInfo{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		// The Raspberry Pi codec and ISP nodes are not cameras.
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, capture.DeviceInfo{
			Name: fmt.Sprintf("%s (%s)", curDevice, line),
			ID:   line,
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}

// DevicePath returns the /dev path for id, which is either a path or a
// camera index like "0".
func DevicePath(id string) string {
	if _, err := strconv.Atoi(id); err == nil {
		return "/dev/video" + id
	}
	return id
}

// Get returns the value of control name on device.
func Get(device, name string) (int, error) {
	out, err := run("-d", DevicePath(device), "--get-ctrl="+name)
	if err != nil {
		return 0, err
	}
	return parseControl(out, name)
}

func parseControl(s, name string) (int, error) {
	for _, line := range strings.Split(s, "\n") {
		t := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(t) != 2 || strings.TrimSpace(t[0]) != name {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(t[1]))
		if err != nil {
			return 0, fmt.Errorf("parsing value of control %s: %v", name, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("control %s not in output %q", name, strings.TrimSpace(s))
}

// Set changes control name on device.
func Set(device, name string, value int) error {
	_, err := run("-d", DevicePath(device), fmt.Sprintf("--set-ctrl=%s=%d", name, value))
	return err
}

// setFirst sets the first of the alternative control names the device
// accepts.
func setFirst(device string, names []string, value int) error {
	var err error
	for _, name := range names {
		if err = Set(device, name, value); err == nil {
			return nil
		}
	}
	return err
}

// SetExposure sets the exposure of device. Negative values select automatic
// exposure, others a manual exposure time in units of 100µs.
func SetExposure(device string, v int) error {
	if v < 0 {
		return setFirst(device, autoExposureControls, exposureAperturePriority)
	}
	if err := setFirst(device, autoExposureControls, exposureManual); err != nil {
		return err
	}
	return setFirst(device, absoluteExposureControls, v)
}

// GetExposure returns the exposure of device, -1 if automatic.
func GetExposure(device string) (int, error) {
	var err error
	for _, name := range autoExposureControls {
		var mode int
		if mode, err = Get(device, name); err != nil {
			continue
		}
		if mode != exposureManual {
			return -1, nil
		}
		break
	}
	if err != nil {
		return 0, err
	}
	for _, name := range absoluteExposureControls {
		var v int
		if v, err = Get(device, name); err == nil {
			return v, nil
		}
	}
	return 0, err
}

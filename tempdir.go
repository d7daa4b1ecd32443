package bucketvision

import (
	"os"
)

// TempDir creates a directory for short-lived frame files, in /dev/shm if it
// exists so frames never touch a disk, and otherwise in the OS default
// temporary directory. Callers remove the directory when done.
func TempDir(prefix string) (string, error) {
	if prefix == "" {
		prefix = "bucketvision"
	}
	// Check /dev/shm exists first. Don't want to accidentally create a
	// directory in /dev when running as root.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", prefix)
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", prefix)
}

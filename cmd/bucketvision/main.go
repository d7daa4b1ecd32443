// Command bucketvision runs the camera pipeline: a capture loop per camera,
// a stage runner per camera, and the display loop rendering, recording and
// streaming the selected camera's results.
//
// Examples:
//
//	# Run with the built-in defaults, front and back camera, on a window.
//	bucketvision run
//
//	# Run on the robot without a display, streaming to the driver station.
//	bucketvision run --headless --stream --ip 10.17.0.5
//
//	# List the cameras ffmpeg can capture from.
//	bucketvision devices --driver ffmpeg
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/RocketRedNeck/BucketVision/config"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

var (
	v   = config.New()
	cfg config.Config
	log = logging.New(os.Stderr, false, false)

	flagConfigFilePath string // value of --config flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is bucketvision.yaml in current directory")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().Bool("json", false, "log JSON lines instead of console output")
	rootCmd.PersistentFlags().String("driver", config.DriverCV, "camera driver: cvcam, v4l, ffmpeg, gstreamer or imagesnap")
	bind(rootCmd, "verbose", "verbose")
	bind(rootCmd, "json", "json")
	bind(rootCmd, "driver", "driver")

	runCmd.Flags().String("ip", "localhost", "address of the viewer frames are streamed to")
	runCmd.Flags().IntP("port", "p", 5555, "port of the viewer")
	runCmd.Flags().Bool("stream", false, "stream from the start, toggle with t")
	runCmd.Flags().Bool("record", false, "record from the start, toggle with r")
	runCmd.Flags().String("record-file", "BucketVision.avi", "file frames are recorded to")
	runCmd.Flags().Bool("headless", false, "no window, keys are read from stdin")
	runCmd.Flags().String("model", "", "model file, adds the model stage")
	bind(runCmd, "ip", "publish.ip")
	bind(runCmd, "port", "publish.port")
	bind(runCmd, "stream", "publish.enabled")
	bind(runCmd, "record", "record.enabled")
	bind(runCmd, "record-file", "record.file")
	bind(runCmd, "headless", "display.headless")
	bind(runCmd, "model", "model.path")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initBucketVision

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("bucketvision failed")
		os.Exit(1)
	}
}

func bind(cmd *cobra.Command, flag, key string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

var rootCmd = &cobra.Command{
	Use:          "bucketvision",
	Short:        "Camera pipeline finding things in buckets of frames",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the capture, stage and display pipeline until q is pressed",
	RunE:  doRun,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "list the cameras the driver can capture from",
	RunE:  doDevices,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version of bucketvision",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("bucketvision: version info not available")
			return
		}
		fmt.Printf("bucketvision: %s\n", info.Main.Version)
		fmt.Printf("go:           %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:       %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:         %s\n", s.Value)
			}
		}
	},
}

func initBucketVision(cmd *cobra.Command, _ []string) error {
	// logging before the config is known, in case loading fails
	log = logging.New(os.Stderr, v.GetBool("verbose"), v.GetBool("json"))

	var err error
	cfg, err = config.Load(v, flagConfigFilePath)
	if err != nil {
		return err
	}
	log = logging.New(os.Stderr, cfg.Verbose, cfg.JSON)
	if used := v.ConfigFileUsed(); used != "" {
		log.Debug().Str("path", used).Msg("config loaded")
	}
	log.Debug().Interface("config", cfg).Msg("bucketvision")
	return nil
}

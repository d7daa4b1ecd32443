// Command viewer shows the frames streamed by "bucketvision run --stream".
// It binds the port the pipeline connects to, so it can be started before or
// after the pipeline, and quits on q or Esc.
//
// Examples:
//
//	# Show the frames streamed to port 5555 in a window.
//	viewer
//
//	# Log the frames received on port 5800, without a window.
//	viewer -p 5800 --headless
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RocketRedNeck/BucketVision/config"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
	"github.com/RocketRedNeck/BucketVision/internal/viewer"
	"github.com/RocketRedNeck/BucketVision/publish"
	"github.com/RocketRedNeck/BucketVision/render"
	"github.com/RocketRedNeck/BucketVision/render/cvwindow"
)

var (
	v   = config.New()
	log = logging.New(os.Stderr, false, false)
)

func main() {
	rootCmd.Flags().IntP("port", "p", 5555, "port to receive frames on")
	rootCmd.Flags().Bool("headless", false, "log frames instead of showing them, keys are read from stdin")
	rootCmd.Flags().Bool("verbose", false, "verbose logging")
	rootCmd.Flags().Bool("json", false, "log JSON lines instead of console output")
	for flag, key := range map[string]string{
		"port":     "publish.port",
		"headless": "display.headless",
		"verbose":  "verbose",
		"json":     "json",
	} {
		if err := v.BindPFlag(key, rootCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	// never print messages
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("viewer failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "viewer",
	Short:        "Show frames streamed by bucketvision",
	SilenceUsage: true,
	RunE:         doView,
}

func doView(cmd *cobra.Command, args []string) error {
	log = logging.New(os.Stderr, v.GetBool("verbose"), v.GetBool("json"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := publish.NewSubscriber(&publish.SubscriberOpts{
		Port:   v.GetInt("publish.port"),
		Logger: &log,
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	var target render.Target
	if v.GetBool("display.headless") {
		target = render.NewHeadless(os.Stdin, &render.HeadlessOpts{LogEvery: 30, Logger: &log})
	} else {
		target = cvwindow.NewWindow("BucketVision Viewer")
	}
	defer target.Close()

	return viewer.Run(ctx, sub, target, log)
}

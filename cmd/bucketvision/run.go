package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RocketRedNeck/BucketVision/brigade"
	"github.com/RocketRedNeck/BucketVision/capture"
	"github.com/RocketRedNeck/BucketVision/capture/cvcam"
	"github.com/RocketRedNeck/BucketVision/capture/ffmpeg"
	"github.com/RocketRedNeck/BucketVision/capture/gstreamer"
	"github.com/RocketRedNeck/BucketVision/capture/imagesnap"
	"github.com/RocketRedNeck/BucketVision/capture/v4l"
	"github.com/RocketRedNeck/BucketVision/config"
	"github.com/RocketRedNeck/BucketVision/display"
	"github.com/RocketRedNeck/BucketVision/paramstore"
	"github.com/RocketRedNeck/BucketVision/publish"
	"github.com/RocketRedNeck/BucketVision/record"
	"github.com/RocketRedNeck/BucketVision/render"
	"github.com/RocketRedNeck/BucketVision/render/cvwindow"
	"github.com/RocketRedNeck/BucketVision/stage"
	"github.com/RocketRedNeck/BucketVision/stage/faces"
	"github.com/RocketRedNeck/BucketVision/stage/findballs"
	"github.com/RocketRedNeck/BucketVision/stage/model"
)

// closers are closed in reverse order when the command returns.
type closers []io.Closer

func (cs *closers) add(c io.Closer) {
	*cs = append(*cs, c)
}

func (cs closers) close() {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil {
			log.Warn().Err(err).Msg("closing")
		}
	}
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cs closers
	defer cs.close()

	store, err := openStore()
	if err != nil {
		return err
	}
	if store != nil {
		cs.add(store)
	}

	factories := stageFactories()
	stages := cfg.Stages
	if cfg.Model.Path != "" && !contains(stages, config.StageModel) {
		stages = append(stages, config.StageModel)
	}

	var cams []brigade.Camera
	feeds := map[string]display.Feed{}
	for _, c := range cfg.Cameras {
		var camStore paramstore.Store
		if store != nil {
			camStore = paramstore.Sub(store, c.Name)
		}
		src := capture.NewSource(newDevice(cfg.Driver), capture.SourceOpts{
			Name:     c.Name,
			DeviceID: c.Device,
			Config:   c.DeviceConfig,
			Store:    camStore,
			Logger:   &log,
		})

		set, err := stage.Build(factories, stages)
		if err != nil {
			return fmt.Errorf("stages for %s: %v", c.Name, err)
		}
		cs.add(set)
		runner, err := stage.NewRunner(src, set, c.Stage, &stage.RunnerOpts{Name: c.Name, Logger: &log})
		if err != nil {
			return fmt.Errorf("runner for %s: %v", c.Name, err)
		}
		cams = append(cams, brigade.Camera{Name: c.Name, Source: src, Runner: runner})
		feeds[c.Name] = runner
	}

	sink, err := display.NewSink(feeds, cfg.Display.Initial, &display.SinkOpts{Logger: &log})
	if err != nil {
		return err
	}

	var renderer render.Target
	if cfg.Display.Headless {
		renderer = render.NewHeadless(os.Stdin, &render.HeadlessOpts{LogEvery: 300, Logger: &log})
	} else {
		renderer = cvwindow.NewWindow(cfg.Display.Title)
	}
	cs.add(renderer)

	opts := brigade.Opts{
		Renderer:     renderer,
		Record:       cfg.Record.Enabled,
		Stream:       cfg.Publish.Enabled,
		StartTimeout: cfg.Timeouts.Start,
		StopTimeout:  cfg.Timeouts.Stop,
		Logger:       &log,
	}

	// Recording is optional, the pipeline runs without if the file cannot
	// be written.
	initial, _ := cfg.Camera(cfg.Display.Initial)
	rec, err := record.NewVideoFile(cfg.Record.File, record.VideoFileOpts{
		Codec:  cfg.Record.Codec,
		FPS:    float64(initial.FPS),
		Width:  initial.Width,
		Height: initial.Height,
		Logger: &log,
	})
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.Record.File).Msg("recording unavailable")
		opts.Record = false
	} else {
		cs.add(rec)
		opts.Recorder = rec
	}

	pub, err := publish.NewPublisher(&publish.PublisherOpts{
		Host: cfg.Publish.IP,
		Port: cfg.Publish.Port,
		Encode: publish.EncodeOpts{
			MaxWidth: cfg.Publish.Width,
			Quality:  cfg.Publish.Quality,
		},
		Logger: &log,
	})
	if err != nil {
		log.Warn().Err(err).Msg("streaming unavailable")
		opts.Stream = false
	} else {
		cs.add(pub)
		opts.Publisher = pub
	}

	o, err := brigade.New(cams, sink, opts)
	if err != nil {
		return err
	}
	if err := o.Start(ctx); err != nil {
		return err
	}
	runErr := o.Run(ctx)

	// Each stop phase has its own timeout.
	if err := o.Stop(context.Background()); err != nil {
		return err
	}
	shown, published, recorded := o.Stats()
	log.Info().Uint64("shown", shown).Uint64("published", published).Uint64("recorded", recorded).Msg("done")

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func newDevice(driver string) capture.Device {
	switch driver {
	case config.DriverV4L:
		return v4l.NewDevice(time.Second)
	case config.DriverFFmpeg:
		return ffmpeg.NewDevice(&log)
	case config.DriverGStreamer:
		return gstreamer.NewDevice(&log)
	case config.DriverImagesnap:
		return imagesnap.NewDevice(&log)
	default:
		return cvcam.NewDevice()
	}
}

type closingStore interface {
	paramstore.Store
	io.Closer
}

func openStore() (closingStore, error) {
	switch cfg.Store.Kind {
	case config.StoreFile:
		s, err := paramstore.OpenFile(cfg.Store.Path, &paramstore.FileOpts{Logger: &log})
		if err != nil {
			return nil, fmt.Errorf("opening parameter file: %v", err)
		}
		return s, nil
	case config.StoreMQTT:
		s, err := paramstore.DialMQTT(paramstore.MQTTOpts{
			Broker: cfg.Store.Broker,
			Topic:  cfg.Store.Topic,
			Logger: &log,
		})
		if err != nil {
			// Parameters are best-effort, run with the configuration only.
			log.Warn().Err(err).Str("broker", cfg.Store.Broker).Msg("parameter store unavailable")
			return nil, nil
		}
		return s, nil
	}
	return nil, nil
}

func stageFactories() map[string]stage.Factory {
	return map[string]stage.Factory{
		config.StageNada: func() (stage.Stage, error) {
			return stage.Passthrough{}, nil
		},
		config.StageBalls: func() (stage.Stage, error) {
			return findballs.New(nil), nil
		},
		config.StageFaces: func() (stage.Stage, error) {
			return faces.New(cfg.Faces.Cascade)
		},
		config.StageModel: func() (stage.Stage, error) {
			proc, err := model.StartProcess(cfg.Model.Path, &model.ProcessOpts{Logger: &log})
			if err != nil {
				return nil, err
			}
			log.Info().Str("project", proc.Project().String()).Str("model", proc.Parameters().String()).Msg("model started")
			st, err := model.New(proc, &model.Opts{Smooth: cfg.Model.Smooth})
			if err != nil {
				proc.Close()
				return nil, err
			}
			return st, nil
		},
	}
}

func contains(l []string, s string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}

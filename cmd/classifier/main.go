// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/motion_classifier/internal/app"
	"github.com/relabs-tech/motion_classifier/internal/classifier"
	"github.com/relabs-tech/motion_classifier/internal/config"
	"github.com/relabs-tech/motion_classifier/internal/display"
	"github.com/relabs-tech/motion_classifier/internal/logger"
	"github.com/relabs-tech/motion_classifier/internal/metrics"
	"github.com/relabs-tech/motion_classifier/internal/resultcodec"
	"github.com/relabs-tech/motion_classifier/internal/sensors"
	"github.com/relabs-tech/motion_classifier/internal/transport"
	"github.com/relabs-tech/motion_classifier/internal/trigger"
	"github.com/relabs-tech/motion_classifier/internal/window"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "classifier",
		Short: "Sample the accelerometer, classify the motion and upload the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "motion_config.txt", "KEY=VALUE configuration file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.InitGlobal(configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()
	logger.Init("classifier", cfg.LogLevel, cfg.LogFile)
	log.Info().Str("device", cfg.DeviceID).Msg("starting motion classifier")

	src, closeSrc, err := sensors.Open(cfg)
	if err != nil {
		return err
	}
	defer closeSrc.Close()

	collector, err := window.NewCollector(src, cfg.FrameSize, cfg.SamplePeriod())
	if err != nil {
		return err
	}

	clf, err := openClassifier(ctx, cfg)
	if err != nil {
		return err
	}

	// labels too long for the static result buffer are a configuration fault
	enc, err := resultcodec.NewEncoder(clf.Labels(), cfg.MaxLabelLen)
	if err != nil {
		return err
	}

	tr, err := transport.New(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	observers := []app.Observer{app.LogObserver{}, app.MetricsObserver{}}
	if cfg.DisplayEnabled {
		d, err := display.Open(cfg.DisplayI2CBus)
		if err != nil {
			log.Warn().Err(err).Msg("display unavailable, continuing without it")
		} else {
			defer d.Close()
			observers = append(observers, d)
		}
	}

	if cfg.MetricsListenAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsListenAddr); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ctrl := app.NewController(collector, clf, enc, tr, observers...)

	if ws, ok := tr.(*transport.WebSocket); ok {
		go keepDialing(ctx, ws)
	}
	log.Info().Msg("waiting for the upload endpoint")
	select {
	case <-tr.Connected():
	case <-ctx.Done():
		return nil
	}

	q := trigger.NewCoalescer()
	switch cfg.TriggerMode {
	case config.TriggerPeriodic:
		go trigger.Periodic(ctx, cfg.TriggerInterval, q)
	case config.TriggerExternalEvent:
		pin, err := trigger.OpenGPIO(cfg.TriggerGPIOPin)
		if err != nil {
			return err
		}
		go trigger.GPIOEdge(ctx, pin, q)
	}

	if err := ctrl.Run(ctx, q.C()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}

func openClassifier(ctx context.Context, cfg *config.Config) (classifier.Classifier, error) {
	if cfg.Classifier != "eim" {
		return classifier.NewEnergy(classifier.DefaultCentroids, cfg.PullChunk)
	}

	eim, err := classifier.DialEIM(ctx, cfg.EIMSocketPath, cfg.PullChunk)
	if err != nil {
		return nil, err
	}
	if eim.FeaturesCount() != cfg.FrameSize {
		eim.Close()
		return nil, fmt.Errorf("model expects %d features, FRAME_SIZE is %d", eim.FeaturesCount(), cfg.FrameSize)
	}
	return eim, nil
}

func keepDialing(ctx context.Context, ws *transport.WebSocket) {
	for {
		err := ws.Connect(ctx)
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("upload endpoint not reachable, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/motion_classifier/internal/app"
	"github.com/relabs-tech/motion_classifier/internal/config"
	"github.com/relabs-tech/motion_classifier/internal/logger"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "Reassemble and decode motion classifier uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := config.InitGlobal(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := config.Get()
			logger.Init("receiver", cfg.LogLevel, cfg.LogFile)
			log.Info().Msg("starting motion receiver")

			return app.RunReceiver(ctx, cfg)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "motion_config.txt", "KEY=VALUE configuration file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

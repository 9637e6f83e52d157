package main

import (
	"github.com/jwdevries/sysbackup/internal/config"
	"github.com/jwdevries/sysbackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the backup storage without running a backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			log.Error().Err(err).Msg("invalid configuration")
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return runner.New(*cfg, log.Logger).MountOnly(ctx)
	},
}

var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Unmount the backup storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			log.Error().Err(err).Msg("invalid configuration")
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return runner.New(*cfg, log.Logger).UnmountOnly(ctx)
	},
}

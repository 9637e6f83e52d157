package main

import (
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/mirror"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var mirrorDryRun bool

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Synchronize the configured package mirror",
	RunE:  runMirror,
}

func init() {
	mirrorCmd.Flags().BoolVar(&mirrorDryRun, "dryrun", false, "simulate without downloading")
}

func runMirror(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Mirror == nil {
		err := &models.ConfigError{Problems: []string{"no mirror section configured"}}
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := mirror.New(log.Logger).Sync(ctx, *cfg.Mirror, mirrorDryRun)
	if err != nil {
		log.Error().Err(err).Msg("mirror sync aborted")
		return err
	}

	log.Info().
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("mirror sync finished")
	return nil
}

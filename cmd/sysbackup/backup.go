package main

import (
	"github.com/jwdevries/sysbackup/internal/config"
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	backupServer string
	backupDryRun bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run the incremental snapshot backup",
	Long: `Run the complete backup workflow:
1. Wake the storage host (if configured)
2. Unlock the encrypted volume (if configured)
3. Mount the backup filesystem (if needed)
4. For every configured server directory: rsync into a dated snapshot,
   hard-linking unchanged files against the previous snapshot
5. Prune the oldest snapshot beyond the retention count per server
6. Unmount and lock again`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupServer, "server", "", "back up only this server")
	backupCmd.Flags().BoolVar(&backupDryRun, "dryrun", false, "simulate the run without transferring or pruning")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("backup_root", cfg.BackupLocation).
		Int("targets", len(cfg.Targets)).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(*cfg, log.Logger)
	if err := runnerSvc.Run(ctx, models.RunOptions{
		ServerFilter: backupServer,
		DryRun:       backupDryRun,
		Verbose:      verbose,
	}); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed")
	return nil
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jwdevries/sysbackup/internal/config"
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	checkServer string
	checkMode   string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report existing snapshots without touching storage",
	Long: `Report the snapshots present on the backup root, per server and per
directory. Three modes: count (snapshot count only), full (every date),
latest (most recent date only). Never mutates storage.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkServer, "server", "", "report only this server")
	checkCmd.Flags().StringVar(&checkMode, "mode", "count", "report mode: count, full or latest")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	mode := models.ReportMode(checkMode)
	switch mode {
	case models.ReportCount, models.ReportFull, models.ReportLatest:
	default:
		return fmt.Errorf("unknown report mode %q, expected count, full or latest", checkMode)
	}

	runnerSvc := runner.New(*cfg, log.Logger)
	reports, err := runnerSvc.CheckBackups(mode, checkServer)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	for _, report := range reports {
		fmt.Printf("\n%s\n", bold.Sprint(report.Server))
		for _, dir := range report.Directories {
			switch mode {
			case models.ReportCount:
				fmt.Printf("  %s: %d snapshot(s)\n", dir.Directory, dir.Count)
			case models.ReportLatest:
				latest := dir.Latest
				if latest == "" {
					latest = color.New(color.FgHiRed).Sprint("none")
				}
				fmt.Printf("  %s: %d snapshot(s), latest %s\n", dir.Directory, dir.Count, latest)
			case models.ReportFull:
				fmt.Printf("  %s: %d snapshot(s)\n", dir.Directory, dir.Count)
				for _, date := range dir.Dates {
					fmt.Printf("    %s\n", date)
				}
			}
		}
	}

	return nil
}

package main

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/journald"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sysbackup",
	Short: "rsync snapshot backups and server administration for small fleets",
	Long: `sysbackup is a one-shot administration tool that handles:
  - rsync-based incremental snapshots with hard-link reuse and retention pruning
  - mounting the backup filesystem, optionally on a LUKS-encrypted volume
  - snapshot inventory reports
  - remote service-status checks over SSH
  - package-mirror synchronization

Use with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(cryptfsCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(validateCmd)
}

// setupLogging writes to the console on interactive runs and always to the
// journal, so scheduled runs stay quiet but durable.
func setupLogging() {
	var writers []io.Writer

	switch {
	case jsonOutput:
		writers = append(writers, os.Stdout)
	case isatty.IsTerminal(os.Stdout.Fd()):
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		writers = append(writers, output)
	}
	writers = append(writers, journald.NewJournalDWriter())

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

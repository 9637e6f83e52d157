package main

import (
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/checksvc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	svcHost       string
	svcUser       string
	svcPassword   string
	svcKeyPath    string
	svcShort      bool
	svcError      bool
	svcShortError bool
	svcCustomOnly bool
	svcNoCustom   bool
	svcLines      int
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Check systemd service status on the configured hosts over SSH",
	RunE:  runServices,
}

func init() {
	servicesCmd.Flags().StringVar(&svcHost, "host", "", "check only this host")
	servicesCmd.Flags().StringVar(&svcUser, "user", "", "SSH user (overrides the configured user)")
	servicesCmd.Flags().StringVar(&svcPassword, "password", "", "SSH password")
	servicesCmd.Flags().StringVar(&svcKeyPath, "key", "", "SSH private key path")
	servicesCmd.Flags().BoolVar(&svcShort, "short", false, "only print the status of each service")
	servicesCmd.Flags().BoolVar(&svcError, "error", false, "print journal output for failed services")
	servicesCmd.Flags().BoolVar(&svcShortError, "short-error", false, "like --short plus journal output for failed services")
	servicesCmd.Flags().BoolVar(&svcCustomOnly, "custom-only", false, "only run the custom check commands")
	servicesCmd.Flags().BoolVar(&svcNoCustom, "no-custom", false, "skip the custom check commands")
	servicesCmd.Flags().IntVar(&svcLines, "lines", 5, "journal lines shown for a failed service")
}

func runServices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Services == nil {
		err := &models.ConfigError{Problems: []string{"no hosts section configured"}}
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	svcCfg := *cfg.Services
	if svcUser != "" {
		svcCfg.User = svcUser
	}

	ctx, cancel := signalContext()
	defer cancel()

	return checksvc.New(log.Logger).Check(ctx, svcCfg, checksvc.Options{
		Host:       svcHost,
		Short:      svcShort,
		Error:      svcError,
		ShortError: svcShortError,
		CustomOnly: svcCustomOnly,
		NoCustom:   svcNoCustom,
		Lines:      svcLines,
		KeyPath:    svcKeyPath,
		Password:   svcPassword,
	})
}

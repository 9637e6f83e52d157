package main

import (
	"fmt"

	"github.com/jwdevries/sysbackup/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file without executing any operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Backup root: %s\n", cfg.BackupLocation)
	fmt.Printf("  Remote user: %s\n", cfg.RemoteUser)
	fmt.Printf("  Date format: %s\n", cfg.DateFormat)
	fmt.Printf("  Retention: %d version(s)\n", cfg.NumberOfVersions)
	fmt.Printf("  Mount before backup: %v\n", cfg.NeedMountFS)
	fmt.Println()
	fmt.Println("Targets:")
	for _, target := range cfg.Targets {
		if len(target.Exclude) > 0 {
			fmt.Printf("  %s:%s (exclude %v)\n", target.Server, target.Directory, target.Exclude)
		} else {
			fmt.Printf("  %s:%s\n", target.Server, target.Directory)
		}
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Encrypted storage: %v\n", cfg.EncryptStorage)
	fmt.Printf("  Mount section: %v\n", cfg.Mount != nil)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Mail summary: %v\n", cfg.Mail != nil)
	fmt.Printf("  Service checks: %v\n", cfg.Services != nil)
	fmt.Printf("  Mirror: %v\n", cfg.Mirror != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
	}

	if cfg.Mail != nil {
		fmt.Println()
		fmt.Println("Mail Configuration:")
		fmt.Printf("  SMTP: %s:%d\n", cfg.Mail.SMTPHost, cfg.Mail.SMTPPort)
		fmt.Printf("  From: %s\n", cfg.Mail.From)
		fmt.Printf("  To: %v\n", cfg.Mail.To)
	}

	if cfg.EncryptFS != nil {
		fmt.Println()
		fmt.Println("Encrypted Volume:")
		fmt.Printf("  Remote: %s://%s%s\n", cfg.EncryptFS.RemoteType, cfg.EncryptFS.RemoteServer, cfg.EncryptFS.RemotePath)
		fmt.Printf("  Crypt file: %s\n", cfg.EncryptFS.CryptFileName)
		fmt.Printf("  Mounted at: %s\n", cfg.EncryptFS.CryptMountPoint)
	}

	return nil
}

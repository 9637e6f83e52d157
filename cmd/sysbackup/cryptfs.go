package main

import (
	"fmt"
	"os"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/cryptfs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var cryptfsCmd = &cobra.Command{
	Use:   "cryptfs",
	Short: "Manage the encrypted backup volume",
}

var cryptfsGenkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Derive an encryption key from a password and store it in the key file",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cryptfsService()
		if err != nil {
			return err
		}

		fmt.Print("Enter a password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		return svc.GenerateKey(string(password))
	},
}

var cryptfsCreateCmd = &cobra.Command{
	Use:   "createfs <size>",
	Short: "Create the encrypted filesystem file (size like 500G)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cryptfsService()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return svc.CreateFS(ctx, args[0])
	},
}

var cryptfsResizeCmd = &cobra.Command{
	Use:   "resizefs <size>",
	Short: "Grow the encrypted filesystem file by the given size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cryptfsService()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return svc.ResizeFS(ctx, args[0])
	},
}

var cryptfsUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock and mount the encrypted filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cryptfsService()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return svc.Unlock(ctx)
	},
}

var cryptfsLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Unmount and lock the encrypted filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cryptfsService()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return svc.Lock(ctx)
	},
}

func init() {
	cryptfsCmd.AddCommand(cryptfsGenkeyCmd)
	cryptfsCmd.AddCommand(cryptfsCreateCmd)
	cryptfsCmd.AddCommand(cryptfsResizeCmd)
	cryptfsCmd.AddCommand(cryptfsUnlockCmd)
	cryptfsCmd.AddCommand(cryptfsLockCmd)
}

func cryptfsService() (cryptfs.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.EncryptFS == nil {
		err := &models.ConfigError{Problems: []string{"no encryptfs section configured"}}
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}
	return cryptfs.New(*cfg.EncryptFS, log.Logger), nil
}

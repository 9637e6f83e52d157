// Package cryptfs manages the LUKS-encrypted backing volume for the
// backup root: key generation, filesystem creation and resizing, and the
// unlock/lock bracket around a backup run.
package cryptfs

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/executil"
	"github.com/jwdevries/sysbackup/internal/services/mount"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

const (
	cryptDeviceName = "crypt_backup"
	kdfIterations   = 100000
	keyLength       = 32
)

// Service defines the interface for encrypted-volume operations.
type Service interface {
	GenerateKey(password string) error
	MountRemote(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	CreateFS(ctx context.Context, sizeSpec string) error
	ResizeFS(ctx context.Context, sizeSpec string) error
}

// AvailableSpaceFunc reports the free bytes on the filesystem holding path.
// Injectable for tests.
type AvailableSpaceFunc func(path string) (uint64, error)

// Impl implements the cryptfs Service interface.
type Impl struct {
	cfg       models.CryptFSConfig
	executor  executil.CommandExecutor
	mountSvc  mount.Service
	available AvailableSpaceFunc
	logger    zerolog.Logger
}

// New creates a new cryptfs service.
func New(cfg models.CryptFSConfig, logger zerolog.Logger) *Impl {
	return &Impl{
		cfg:       cfg,
		executor:  &executil.DefaultExecutor{},
		mountSvc:  mount.New(logger),
		available: availableSpace,
		logger:    logger,
	}
}

// NewWithDeps creates a cryptfs service with custom collaborators (for testing).
func NewWithDeps(cfg models.CryptFSConfig, executor executil.CommandExecutor, mountSvc mount.Service, available AvailableSpaceFunc, logger zerolog.Logger) *Impl {
	return &Impl{
		cfg:       cfg,
		executor:  executor,
		mountSvc:  mountSvc,
		available: available,
		logger:    logger,
	}
}

// GenerateKey derives an encryption key from the password with
// PBKDF2-SHA256 and writes it to the configured key file.
func (s *Impl) GenerateKey(password string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, keyLength, sha256.New)
	encoded := []byte(base64.URLEncoding.EncodeToString(derived))

	if err := os.WriteFile(s.cfg.KeyFile, encoded, 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}

	s.logger.Info().Str("key_file", s.cfg.KeyFile).Msg("encryption key written")
	return nil
}

// MountRemote mounts the remote filesystem that holds the encrypted file.
func (s *Impl) MountRemote(ctx context.Context) error {
	return s.mountSvc.Mount(ctx, s.remoteMountConfig())
}

// Unlock mounts the remote filesystem, opens the LUKS container and mounts
// the plaintext device on the crypt mount point.
func (s *Impl) Unlock(ctx context.Context) error {
	key, cryptFile, err := s.prepareOpen(ctx)
	if err != nil {
		return err
	}

	output, err := s.executor.ExecuteWithInput(ctx, key, "cryptsetup", "open", "--key-file", "-", cryptFile, cryptDeviceName)
	if err != nil {
		return &models.ResourceError{
			Resource: cryptFile,
			Err:      fmt.Errorf("cryptsetup open failed: %w, output: %s", err, string(output)),
		}
	}

	if err := s.mountSvc.Mount(ctx, models.MountConfig{
		MountPoint: s.cfg.CryptMountPoint,
		Type:       "device",
		Device:     cryptDevice(),
	}); err != nil {
		return err
	}

	s.logger.Info().
		Str("crypt_file", cryptFile).
		Str("mount_point", s.cfg.CryptMountPoint).
		Msg("encrypted filesystem mounted")
	return nil
}

// Lock unmounts the crypt mount point, closes the LUKS container and
// unmounts the remote filesystem.
func (s *Impl) Lock(ctx context.Context) error {
	if err := s.mountSvc.Unmount(ctx, s.cfg.CryptMountPoint); err != nil {
		return err
	}

	output, err := s.executor.Execute(ctx, "cryptsetup", "close", cryptDeviceName)
	if err != nil {
		return &models.ResourceError{
			Resource: cryptDeviceName,
			Err:      fmt.Errorf("cryptsetup close failed: %w, output: %s", err, string(output)),
		}
	}

	s.logger.Info().Str("mount_point", s.cfg.CryptMountPoint).Msg("encrypted filesystem locked")
	return s.mountSvc.Unmount(ctx, s.cfg.RemoteMountPoint)
}

// CreateFS allocates the encrypted file, formats it as LUKS with an XFS
// filesystem inside and mounts it.
func (s *Impl) CreateFS(ctx context.Context, sizeSpec string) error {
	count, unit, sizeBytes, err := parseSizeSpec(sizeSpec)
	if err != nil {
		return err
	}

	key, cryptFile, err := s.prepareOpen(ctx)
	if err != nil {
		return err
	}

	if err := s.checkFreeSpace(s.cfg.RemoteMountPoint, sizeBytes); err != nil {
		return err
	}

	steps := [][]string{
		{"dd", "if=/dev/zero", "of=" + cryptFile, "bs=1" + unit, "count=" + strconv.FormatInt(count, 10)},
		{"cryptsetup", "luksFormat", "--key-file", "-", cryptFile},
		{"cryptsetup", "open", "--key-file", "-", cryptFile, cryptDeviceName},
		{"mkfs.xfs", cryptDevice()},
	}
	for _, step := range steps {
		var output []byte
		if step[0] == "cryptsetup" {
			output, err = s.executor.ExecuteWithInput(ctx, key, step[0], step[1:]...)
		} else {
			output, err = s.executor.Execute(ctx, step[0], step[1:]...)
		}
		if err != nil {
			return fmt.Errorf("%s failed: %w, output: %s", step[0], err, string(output))
		}
	}

	if err := s.mountSvc.Mount(ctx, models.MountConfig{
		MountPoint: s.cfg.CryptMountPoint,
		Type:       "device",
		Device:     cryptDevice(),
	}); err != nil {
		return err
	}

	s.logger.Info().Str("crypt_file", cryptFile).Str("size", sizeSpec).Msg("created encrypted filesystem")
	return nil
}

// ResizeFS grows the encrypted file by the given size and expands the LUKS
// container and XFS filesystem to match.
func (s *Impl) ResizeFS(ctx context.Context, sizeSpec string) error {
	_, _, sizeBytes, err := parseSizeSpec(sizeSpec)
	if err != nil {
		return err
	}

	key, cryptFile, err := s.prepareOpen(ctx)
	if err != nil {
		return err
	}

	info, err := os.Stat(cryptFile)
	if err != nil {
		return fmt.Errorf("stat %s: %w", cryptFile, err)
	}
	newSize := info.Size() + sizeBytes

	if err := s.checkFreeSpace(filepath.Dir(cryptFile), sizeBytes); err != nil {
		return err
	}

	if err := os.Truncate(cryptFile, newSize); err != nil {
		return fmt.Errorf("growing %s: %w", cryptFile, err)
	}

	for _, step := range [][]string{
		{"open", "--key-file", "-", cryptFile, cryptDeviceName},
		{"resize", "--key-file", "-", cryptDeviceName},
	} {
		output, err := s.executor.ExecuteWithInput(ctx, key, "cryptsetup", step...)
		if err != nil {
			return fmt.Errorf("cryptsetup %s failed: %w, output: %s", step[0], err, string(output))
		}
	}

	if err := s.mountSvc.Mount(ctx, models.MountConfig{
		MountPoint: s.cfg.CryptMountPoint,
		Type:       "device",
		Device:     cryptDevice(),
	}); err != nil {
		return err
	}

	output, err := s.executor.Execute(ctx, "xfs_growfs", s.cfg.CryptMountPoint)
	if err != nil {
		return fmt.Errorf("xfs_growfs failed: %w, output: %s", err, string(output))
	}

	s.logger.Info().
		Str("mount_point", s.cfg.CryptMountPoint).
		Str("size", humanize.IBytes(uint64(newSize))).
		Msg("resized encrypted filesystem")
	return nil
}

func (s *Impl) prepareOpen(ctx context.Context) (key []byte, cryptFile string, err error) {
	if err := s.MountRemote(ctx); err != nil {
		return nil, "", err
	}

	key, err = os.ReadFile(s.cfg.KeyFile)
	if err != nil {
		return nil, "", fmt.Errorf("reading key file: %w", err)
	}

	return key, filepath.Join(s.cfg.RemoteMountPoint, s.cfg.CryptFileName), nil
}

func (s *Impl) checkFreeSpace(path string, needed int64) error {
	free, err := s.available(path)
	if err != nil {
		return fmt.Errorf("checking free space on %s: %w", path, err)
	}
	if uint64(needed) > free {
		return fmt.Errorf("not enough free space on %s: %s available, %s needed",
			path, humanize.IBytes(free), humanize.IBytes(uint64(needed)))
	}
	return nil
}

func (s *Impl) remoteMountConfig() models.MountConfig {
	return models.MountConfig{
		MountPoint:     s.cfg.RemoteMountPoint,
		Type:           s.cfg.RemoteType,
		Server:         s.cfg.RemoteServer,
		RemotePath:     s.cfg.RemotePath,
		User:           s.cfg.RemoteUsername,
		Password:       s.cfg.RemotePassword,
		CredentialFile: s.cfg.RemoteCredentialFile,
		Port:           s.cfg.RemotePort,
		Secure:         s.cfg.RemoteSecure,
	}
}

func cryptDevice() string {
	return filepath.Join("/dev/mapper", cryptDeviceName)
}

// parseSizeSpec splits a size like "500G" into count, unit and total bytes.
func parseSizeSpec(spec string) (count int64, unit string, bytes int64, err error) {
	if len(spec) < 2 {
		return 0, "", 0, fmt.Errorf("invalid size %q, expected a value like 500G", spec)
	}

	unit = spec[len(spec)-1:]
	count, err = strconv.ParseInt(spec[:len(spec)-1], 10, 64)
	if err != nil || count <= 0 {
		return 0, "", 0, fmt.Errorf("invalid size %q, expected a value like 500G", spec)
	}

	multipliers := map[string]int64{
		"K": 1 << 10,
		"M": 1 << 20,
		"G": 1 << 30,
		"T": 1 << 40,
	}
	multiplier, ok := multipliers[unit]
	if !ok {
		return 0, "", 0, fmt.Errorf("invalid unit %q, valid units are K, M, G, T", unit)
	}

	return count, unit, count * multiplier, nil
}

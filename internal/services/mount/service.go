// Package mount manages the filesystem holding the backup root.
package mount

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/executil"
	"github.com/rs/zerolog"
)

// Service defines the interface for mount operations.
type Service interface {
	Mount(ctx context.Context, cfg models.MountConfig) error
	Unmount(ctx context.Context, mountPoint string) error
	IsMounted(mountPoint string) bool
}

// Impl implements the mount Service interface.
type Impl struct {
	executor   executil.CommandExecutor
	logger     zerolog.Logger
	mountsPath string
	fstabPath  string
}

// New creates a new mount service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor:   &executil.DefaultExecutor{},
		logger:     logger,
		mountsPath: "/proc/self/mounts",
		fstabPath:  "/etc/fstab",
	}
}

// NewWithExecutor creates a mount service with custom executor and mount
// table locations (for testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor, mountsPath, fstabPath string) *Impl {
	return &Impl{
		executor:   executor,
		logger:     logger,
		mountsPath: mountsPath,
		fstabPath:  fstabPath,
	}
}

// Mount mounts the configured filesystem. Already-mounted targets are a
// logged no-op.
func (s *Impl) Mount(ctx context.Context, cfg models.MountConfig) error {
	if s.IsMounted(cfg.MountPoint) {
		s.logger.Info().Str("mount_point", cfg.MountPoint).Msg("filesystem is already mounted")
		return nil
	}

	var output []byte
	var err error

	switch cfg.Type {
	case "":
		if cfg.Device != "" {
			s.logger.Info().Str("device", cfg.Device).Str("mount_point", cfg.MountPoint).Msg("mounting device")
			output, err = s.executor.Execute(ctx, "mount", cfg.Device, cfg.MountPoint)
			break
		}
		if !s.isInFstab(cfg.MountPoint) {
			return &models.ResourceError{
				Resource: cfg.MountPoint,
				Err:      fmt.Errorf("no device or type configured and %s is not in %s", cfg.MountPoint, s.fstabPath),
			}
		}
		s.logger.Info().Str("mount_point", cfg.MountPoint).Msg("mounting from fstab")
		output, err = s.executor.Execute(ctx, "mount", cfg.MountPoint)

	case "device":
		s.logger.Info().Str("device", cfg.Device).Str("mount_point", cfg.MountPoint).Msg("mounting device")
		output, err = s.executor.Execute(ctx, "mount", cfg.Device, cfg.MountPoint)

	case "sshfs":
		args := []string{}
		if cfg.Port != 0 {
			args = append(args, "-p", strconv.Itoa(cfg.Port))
		}
		args = append(args, fmt.Sprintf("%s@%s:%s", cfg.User, cfg.Server, cfg.RemotePath), cfg.MountPoint)
		s.logger.Info().Str("server", cfg.Server).Str("mount_point", cfg.MountPoint).Msg("mounting sshfs share")
		output, err = s.executor.Execute(ctx, "sshfs", args...)

	case "nfs":
		s.logger.Info().Str("server", cfg.Server).Str("mount_point", cfg.MountPoint).Msg("mounting nfs share")
		output, err = s.executor.Execute(ctx, "mount", fmt.Sprintf("%s:%s", cfg.Server, cfg.RemotePath), cfg.MountPoint)

	case "cifs":
		var options []string
		switch {
		case cfg.CredentialFile != "":
			options = append(options, "credentials="+cfg.CredentialFile)
		case cfg.User != "" && cfg.Password != "":
			options = append(options, fmt.Sprintf("user=%s,pass=%s", cfg.User, cfg.Password))
		default:
			return &models.ResourceError{
				Resource: cfg.MountPoint,
				Err:      fmt.Errorf("no username/password or credential file configured for cifs"),
			}
		}
		if cfg.Secure {
			options = append(options, "seal")
		}
		s.logger.Info().Str("server", cfg.Server).Str("mount_point", cfg.MountPoint).Msg("mounting cifs share")
		output, err = s.executor.Execute(ctx, "mount.cifs",
			"-o", strings.Join(options, ","),
			fmt.Sprintf("//%s%s", cfg.Server, cfg.RemotePath), cfg.MountPoint)

	default:
		return &models.ResourceError{
			Resource: cfg.MountPoint,
			Err:      fmt.Errorf("unsupported mount type: %s", cfg.Type),
		}
	}

	if err != nil {
		return &models.ResourceError{
			Resource: cfg.MountPoint,
			Err:      fmt.Errorf("mount failed: %w, output: %s", err, string(output)),
		}
	}

	return nil
}

// Unmount force-unmounts the mount point. Unmounted targets are a logged no-op.
func (s *Impl) Unmount(ctx context.Context, mountPoint string) error {
	if !s.IsMounted(mountPoint) {
		s.logger.Info().Str("mount_point", mountPoint).Msg("filesystem is not mounted")
		return nil
	}

	s.logger.Info().Str("mount_point", mountPoint).Msg("unmounting filesystem")
	output, err := s.executor.Execute(ctx, "umount", "-f", mountPoint)
	if err != nil {
		return &models.ResourceError{
			Resource: mountPoint,
			Err:      fmt.Errorf("umount failed: %w, output: %s", err, string(output)),
		}
	}

	return nil
}

// IsMounted checks the kernel mount table for the mount point.
func (s *Impl) IsMounted(mountPoint string) bool {
	data, err := os.ReadFile(s.mountsPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.mountsPath).Msg("cannot read mount table")
		return false
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[1] == mountPoint {
			return true
		}
	}
	return false
}

func (s *Impl) isInFstab(mountPoint string) bool {
	data, err := os.ReadFile(s.fstabPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.fstabPath).Msg("cannot read fstab")
		return false
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[1] == mountPoint {
			return true
		}
	}
	return false
}

// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/cryptfs"
	"github.com/jwdevries/sysbackup/internal/services/mail"
	"github.com/jwdevries/sysbackup/internal/services/mount"
	"github.com/jwdevries/sysbackup/internal/services/planner"
	"github.com/jwdevries/sysbackup/internal/services/prune"
	"github.com/jwdevries/sysbackup/internal/services/rsync"
	"github.com/jwdevries/sysbackup/internal/services/snapshot"
	"github.com/jwdevries/sysbackup/internal/services/wol"
	"github.com/rs/zerolog"
)

const lockFileName = ".sysbackup.lock"

// Service defines the interface for the backup orchestrator.
type Service interface {
	Run(ctx context.Context, opts models.RunOptions) error
	CheckBackups(mode models.ReportMode, serverFilter string) ([]models.ServerReport, error)
	MountOnly(ctx context.Context) error
	UnmountOnly(ctx context.Context) error
}

// Impl implements the runner Service interface.
type Impl struct {
	cfg        models.Config
	store      *snapshot.Store
	plannerSvc *planner.Planner
	rsyncSvc   rsync.Service
	pruner     *prune.Pruner
	mountSvc   mount.Service
	cryptSvc   cryptfs.Service
	wolSvc     wol.Service
	notifier   *mail.Notifier
	logger     zerolog.Logger
}

// New creates a new runner service wired with the default collaborators.
func New(cfg models.Config, logger zerolog.Logger) *Impl {
	store := snapshot.New(cfg.DateFormat, logger)

	var cryptSvc cryptfs.Service
	if cfg.EncryptFS != nil {
		cryptSvc = cryptfs.New(*cfg.EncryptFS, logger)
	}

	return &Impl{
		cfg:        cfg,
		store:      store,
		plannerSvc: planner.New(store, cfg.RemoteUser, logger),
		rsyncSvc:   rsync.New(logger),
		pruner:     prune.New(store, logger),
		mountSvc:   mount.New(logger),
		cryptSvc:   cryptSvc,
		wolSvc:     wol.New(logger),
		notifier:   mail.NewNotifier(cfg.Mail, logger),
		logger:     logger,
	}
}

// NewWithServices creates a runner with custom collaborators (for testing).
func NewWithServices(
	cfg models.Config,
	store *snapshot.Store,
	plannerSvc *planner.Planner,
	rsyncSvc rsync.Service,
	pruner *prune.Pruner,
	mountSvc mount.Service,
	cryptSvc cryptfs.Service,
	wolSvc wol.Service,
	notifier *mail.Notifier,
	logger zerolog.Logger,
) *Impl {
	return &Impl{
		cfg:        cfg,
		store:      store,
		plannerSvc: plannerSvc,
		rsyncSvc:   rsyncSvc,
		pruner:     pruner,
		mountSvc:   mountSvc,
		cryptSvc:   cryptSvc,
		wolSvc:     wolSvc,
		notifier:   notifier,
		logger:     logger,
	}
}

// Run executes one complete backup pass: wake and mount the storage,
// sync every configured target, prune, then release the storage again.
// Unmount and lock are deferred so they run on every exit path.
//
//nolint:gocognit,gocyclo // backup workflow has multiple bracketed steps
func (s *Impl) Run(ctx context.Context, opts models.RunOptions) error {
	startTime := time.Now()
	today := s.store.Today(time.Now())

	s.logger.Info().
		Str("backup_root", s.cfg.BackupLocation).
		Str("date", today).
		Bool("dry_run", opts.DryRun).
		Msg("starting backup run")

	defer func() {
		hostname, _ := os.Hostname()
		s.notifier.Flush(ctx, hostname)
	}()

	if s.cfg.WOL != nil {
		if err := s.wolSvc.Wake(ctx, *s.cfg.WOL); err != nil {
			s.notifier.AppendError("wake-on-lan failed: %v", err)
			return &models.ResourceError{Resource: "storage host", Err: err}
		}
	}

	if s.cfg.EncryptStorage && s.cryptSvc != nil {
		if err := s.cryptSvc.Unlock(ctx); err != nil {
			s.notifier.AppendError("unlock failed: %v", err)
			return err
		}
		defer func() {
			if err := s.cryptSvc.Lock(ctx); err != nil {
				s.logger.Error().Err(err).Msg("failed to lock encrypted storage")
			}
		}()
	}

	if s.cfg.NeedMountFS {
		mountCfg := models.MountConfig{MountPoint: s.cfg.BackupLocation}
		if s.cfg.Mount != nil {
			mountCfg = *s.cfg.Mount
		}
		if err := s.mountSvc.Mount(ctx, mountCfg); err != nil {
			s.notifier.AppendError("mount failed: %v", err)
			return err
		}
		defer func() {
			if err := s.mountSvc.Unmount(ctx, mountCfg.MountPoint); err != nil {
				s.logger.Error().Err(err).Msg("failed to unmount backup filesystem")
			}
		}()
	}

	// One run at a time against a backup root. Concurrent runs against the
	// same tree would race on the date directories.
	lock := flock.New(filepath.Join(s.cfg.BackupLocation, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return &models.ResourceError{Resource: s.cfg.BackupLocation, Err: fmt.Errorf("acquiring lock: %w", err)}
	}
	if !locked {
		return &models.ResourceError{Resource: s.cfg.BackupLocation, Err: fmt.Errorf("another backup run holds the lock")}
	}
	defer func() { _ = lock.Unlock() }()

	summary := models.RunSummary{Date: today}

	for _, server := range s.servers(opts.ServerFilter) {
		s.backupServer(ctx, server, today, opts, &summary)
	}

	summary.Duration = time.Since(startTime)
	s.logger.Info().
		Int("synced", summary.Synced).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Strs("pruned", summary.Pruned).
		Dur("duration", summary.Duration).
		Msg("backup run finished")
	s.notifier.Append("run %s: %d synced, %d skipped, %d failed in %s",
		today, summary.Synced, summary.Skipped, summary.Failed, summary.Duration.Round(time.Second))

	return nil
}

// backupServer syncs every configured directory of one server and then
// applies retention to its root. Per-directory failures never abort the
// sibling directories.
func (s *Impl) backupServer(ctx context.Context, server, today string, opts models.RunOptions, summary *models.RunSummary) {
	serverRoot := filepath.Join(s.cfg.BackupLocation, server)

	if !opts.DryRun {
		if err := os.MkdirAll(serverRoot, 0o755); err != nil {
			s.logger.Error().Err(err).Str("server", server).Msg("cannot create server root")
			s.notifier.AppendError("%s: cannot create server root: %v", server, err)
			summary.Failed++
			return
		}
	}

	for _, target := range s.cfg.Targets {
		if target.Server != server {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}

		dates := s.store.ListDates(serverRoot)
		plan, err := s.plannerSvc.BuildPlan(target, s.cfg.BackupLocation, today, dates)
		if err != nil {
			s.logger.Error().Err(err).Str("directory", target.Directory).Msg("cannot plan sync")
			s.notifier.AppendError("%s:%s: %v", server, target.Directory, err)
			summary.Failed++
			continue
		}

		if plan.Skip {
			summary.Skipped++
			s.notifier.Append("%s:%s already captured for %s", server, target.Directory, today)
			continue
		}

		if !opts.DryRun {
			if err := os.MkdirAll(plan.DestinationPath, 0o755); err != nil {
				fsErr := &models.FilesystemError{Op: "mkdir", Path: plan.DestinationPath, Err: err}
				s.logger.Error().Err(fsErr).Msg("cannot create destination")
				s.notifier.AppendError("%s:%s: %v", server, target.Directory, fsErr)
				summary.Failed++
				continue
			}
		}

		result, err := s.rsyncSvc.Sync(ctx, *plan, opts)
		if err != nil {
			s.logger.Error().Err(err).Msg("sync invocation failed")
			summary.Failed++
			continue
		}
		if result.Error != nil {
			s.logger.Error().Err(result.Error).Str("stderr", result.Stderr).Msg("transfer failed")
			s.notifier.AppendError("%s:%s: %v", server, target.Directory, result.Error)
			summary.Failed++
			// Drop the reservation so the next run retries instead of
			// treating the partial capture as complete.
			if !opts.DryRun {
				if rmErr := os.RemoveAll(plan.DestinationPath); rmErr != nil {
					s.logger.Warn().Err(rmErr).Str("path", plan.DestinationPath).Msg("cannot remove partial destination")
				}
			}
			continue
		}

		summary.Synced++
		s.notifier.Append("%s:%s synced in %s", server, target.Directory, result.Duration.Round(time.Second))
		s.logger.Info().
			Str("server", server).
			Str("directory", target.Directory).
			Dur("duration", result.Duration).
			Msg("transfer completed")
	}

	pruneResult := s.pruner.Prune(serverRoot, s.cfg.NumberOfVersions, opts.DryRun)
	if pruneResult.Error != nil {
		s.notifier.AppendError("%s: prune: %v", server, pruneResult.Error)
	}
	if pruneResult.Removed != "" {
		summary.Pruned = append(summary.Pruned, server+"/"+pruneResult.Removed)
		s.notifier.Append("%s: pruned snapshot %s", server, pruneResult.Removed)
	}
}

// CheckBackups computes the snapshot report without mutating storage.
func (s *Impl) CheckBackups(mode models.ReportMode, serverFilter string) ([]models.ServerReport, error) {
	var reports []models.ServerReport

	for _, server := range s.servers(serverFilter) {
		serverRoot := filepath.Join(s.cfg.BackupLocation, server)
		dates := s.store.ListDates(serverRoot)

		report := models.ServerReport{Server: server}
		for _, target := range s.cfg.Targets {
			if target.Server != server {
				continue
			}

			relDir, err := planner.RelativeDir(target.Directory)
			if err != nil {
				return nil, err
			}

			dir := models.DirectoryReport{Directory: target.Directory}
			for _, date := range dates {
				if !s.store.SnapshotExistsFor(serverRoot, date, relDir) {
					continue
				}
				dir.Count++
				dir.Latest = date
				if mode == models.ReportFull {
					dir.Dates = append(dir.Dates, date)
				}
			}
			report.Directories = append(report.Directories, dir)
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// MountOnly brings up the backup storage without running a backup.
func (s *Impl) MountOnly(ctx context.Context) error {
	if s.cfg.EncryptStorage && s.cryptSvc != nil {
		if err := s.cryptSvc.Unlock(ctx); err != nil {
			return err
		}
	}
	if !s.cfg.NeedMountFS {
		return nil
	}
	mountCfg := models.MountConfig{MountPoint: s.cfg.BackupLocation}
	if s.cfg.Mount != nil {
		mountCfg = *s.cfg.Mount
	}
	return s.mountSvc.Mount(ctx, mountCfg)
}

// UnmountOnly releases the backup storage without running a backup.
func (s *Impl) UnmountOnly(ctx context.Context) error {
	if s.cfg.NeedMountFS {
		mountPoint := s.cfg.BackupLocation
		if s.cfg.Mount != nil {
			mountPoint = s.cfg.Mount.MountPoint
		}
		if err := s.mountSvc.Unmount(ctx, mountPoint); err != nil {
			return err
		}
	}
	if s.cfg.EncryptStorage && s.cryptSvc != nil {
		return s.cryptSvc.Lock(ctx)
	}
	return nil
}

// servers returns the distinct server names in target order, optionally
// narrowed to a single server.
func (s *Impl) servers(filter string) []string {
	seen := make(map[string]bool)
	var servers []string
	for _, target := range s.cfg.Targets {
		if filter != "" && target.Server != filter {
			continue
		}
		if !seen[target.Server] {
			seen[target.Server] = true
			servers = append(servers, target.Server)
		}
	}
	return servers
}

// Package rsync invokes the external rsync binary for one sync plan.
package rsync

import (
	"context"
	"time"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/executil"
	"github.com/rs/zerolog"
)

// Service defines the interface for sync invocations.
type Service interface {
	Sync(ctx context.Context, plan models.SyncPlan, opts models.RunOptions) (*models.SyncResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new rsync service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new rsync service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// BuildArgs assembles the rsync command line for a plan.
func BuildArgs(plan models.SyncPlan, opts models.RunOptions) []string {
	flags := "-ar"
	if opts.Verbose {
		flags = "-arv"
	}

	args := []string{flags}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	for _, pattern := range plan.ExcludePatterns {
		args = append(args, "--exclude", pattern)
	}
	if plan.LinkDestPath != "" {
		args = append(args, "--link-dest", plan.LinkDestPath)
	}
	return append(args, plan.SourceSpec, plan.DestinationPath)
}

// Sync executes the transfer described by plan. Transfer failures are
// reported in the result, not as an error return, so the caller can keep
// going with the next directory.
func (s *Impl) Sync(ctx context.Context, plan models.SyncPlan, opts models.RunOptions) (*models.SyncResult, error) {
	args := BuildArgs(plan, opts)

	s.logger.Info().
		Str("source", plan.SourceSpec).
		Str("destination", plan.DestinationPath).
		Bool("dry_run", opts.DryRun).
		Msg("running rsync")
	s.logger.Debug().Strs("args", args).Msg("rsync command")

	start := time.Now()
	stdout, stderr, err := s.executor.ExecuteSplit(ctx, "rsync", args...)

	result := &models.SyncResult{
		Success:  err == nil,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
	}
	if err != nil {
		result.Error = &models.TransferError{
			Server:    plan.Server,
			Directory: plan.RelativeDir,
			Output:    string(stderr),
			Err:       err,
		}
	}

	return result, nil
}

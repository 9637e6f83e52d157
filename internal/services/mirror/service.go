// Package mirror synchronizes package repositories from an upstream mirror.
package mirror

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/executil"
	"github.com/rs/zerolog"
)

const maxRetries = 3

// Result summarizes one mirror pass.
type Result struct {
	Synced   int
	Failed   int
	Duration time.Duration
}

// Service defines the interface for mirror synchronization.
type Service interface {
	Sync(ctx context.Context, cfg models.MirrorConfig, dryRun bool) (*Result, error)
}

// Impl implements the mirror Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new mirror service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a mirror service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Sync processes every resolved location sequentially. Each location is
// retried with exponential backoff; a location that keeps failing is
// counted and skipped so the rest of the mirror still updates.
func (s *Impl) Sync(ctx context.Context, cfg models.MirrorConfig, dryRun bool) (*Result, error) {
	start := time.Now()
	result := &Result{}

	for _, location := range cfg.Locations {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		s.logger.Info().
			Str("source", location.Source).
			Str("destination", location.Destination).
			Msg("syncing mirror location")

		if err := s.syncLocation(ctx, location, dryRun); err != nil {
			result.Failed++
			s.logger.Error().Err(err).Str("source", location.Source).Msg("mirror location failed")
			continue
		}
		result.Synced++
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (s *Impl) syncLocation(ctx context.Context, location models.MirrorLocation, dryRun bool) error {
	if err := os.MkdirAll(location.Destination, 0o755); err != nil {
		return &models.FilesystemError{Op: "mkdir", Path: location.Destination, Err: err}
	}

	operation := func() error {
		var output []byte
		var err error

		switch location.Protocol {
		case "rsync", "":
			args := []string{"-a", "--delete"}
			if dryRun {
				args = append(args, "--dry-run")
			}
			args = append(args, location.Source+"/", location.Destination+"/")
			output, err = s.executor.Execute(ctx, "rsync", args...)

		case "http", "https":
			if dryRun {
				args := []string{"--spider", "--recursive", "--no-parent", location.Source}
				output, err = s.executor.Execute(ctx, "wget", args...)
				break
			}
			args := []string{
				"--mirror", "--no-parent", "--no-host-directories",
				"--directory-prefix", location.Destination,
				location.Source,
			}
			output, err = s.executor.Execute(ctx, "wget", args...)

		default:
			return backoff.Permanent(fmt.Errorf("unsupported mirror protocol: %s", location.Protocol))
		}

		if err != nil {
			s.logger.Warn().Err(err).Str("source", location.Source).Msg("transfer attempt failed, retrying")
			return fmt.Errorf("transfer failed: %w, output: %s", err, string(output))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

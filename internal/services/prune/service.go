// Package prune enforces the retention count on a server's backup root.
package prune

import (
	"os"
	"path/filepath"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/snapshot"
	"github.com/rs/zerolog"
)

// Pruner removes at most one snapshot per server root per run. Retention is
// a time-window policy over whole dated directories, not a per-path counter.
type Pruner struct {
	store  *snapshot.Store
	logger zerolog.Logger
}

// New creates a new pruner.
func New(store *snapshot.Store, logger zerolog.Logger) *Pruner {
	return &Pruner{
		store:  store,
		logger: logger,
	}
}

// Prune evaluates the on-disk snapshot set at call time and deletes the
// single oldest dated directory when the set exceeds the retention count.
// Under dry-run nothing is deleted.
func (p *Pruner) Prune(serverRoot string, retention int, dryRun bool) *models.PruneResult {
	dates := p.store.ListDates(serverRoot)

	result := &models.PruneResult{Kept: len(dates)}

	oldest, ok := p.store.OldestBeyondRetention(dates, retention)
	if !ok {
		p.logger.Debug().
			Str("root", serverRoot).
			Int("snapshots", len(dates)).
			Int("retention", retention).
			Msg("retention not exceeded")
		return result
	}

	target := filepath.Join(serverRoot, oldest)

	if dryRun {
		result.WouldRemove = oldest
		p.logger.Info().Str("snapshot", target).Msg("dry-run: would remove oldest snapshot")
		return result
	}

	// Fail-soft when the target vanished; surface permission-type
	// failures as a warning without aborting the run.
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		p.logger.Warn().Str("snapshot", target).Msg("prune target is absent or not a directory")
		return result
	}

	if err := os.RemoveAll(target); err != nil {
		result.Error = &models.FilesystemError{Op: "remove", Path: target, Err: err}
		p.logger.Warn().Err(err).Str("snapshot", target).Msg("failed to remove oldest snapshot")
		return result
	}

	result.Removed = oldest
	result.Kept = len(dates) - 1
	p.logger.Info().Str("snapshot", target).Msg("removed oldest snapshot")
	return result
}

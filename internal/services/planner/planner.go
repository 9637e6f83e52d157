// Package planner builds the transfer description for one
// (server, directory) pair from the current snapshot store state.
package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/snapshot"
	"github.com/rs/zerolog"
)

// HostnameFunc returns the local hostname. Injectable for tests.
type HostnameFunc func() (string, error)

// Planner produces side-effect-free sync plans. Directory creation and the
// actual transfer belong to the orchestrator and the rsync invoker.
type Planner struct {
	store      *snapshot.Store
	remoteUser string
	hostname   HostnameFunc
	logger     zerolog.Logger
}

// New creates a planner using the machine's real hostname.
func New(store *snapshot.Store, remoteUser string, logger zerolog.Logger) *Planner {
	return NewWithHostname(store, remoteUser, os.Hostname, logger)
}

// NewWithHostname creates a planner with a custom hostname source (for testing).
func NewWithHostname(store *snapshot.Store, remoteUser string, hostname HostnameFunc, logger zerolog.Logger) *Planner {
	return &Planner{
		store:      store,
		remoteUser: remoteUser,
		hostname:   hostname,
		logger:     logger,
	}
}

// BuildPlan decides source spec, destination, excludes and link reference
// for one target given the snapshot dates currently on disk.
func (p *Planner) BuildPlan(target models.BackupTarget, backupRoot, today string, dates []string) (*models.SyncPlan, error) {
	relDir, err := RelativeDir(target.Directory)
	if err != nil {
		return nil, err
	}

	serverRoot := filepath.Join(backupRoot, target.Server)
	destination := filepath.Join(serverRoot, today, relDir)

	plan := &models.SyncPlan{
		Server:          target.Server,
		DestinationPath: destination,
		RelativeDir:     relDir,
		ExcludePatterns: target.Exclude,
	}

	// Idempotent re-run: a destination that already exists today was
	// already captured, so the second run of the day is a no-op.
	if info, err := os.Stat(destination); err == nil && info.IsDir() {
		plan.Skip = true
		p.logger.Info().Str("destination", destination).Msg("backup target already exists, skipping")
		return plan, nil
	}

	cleanSource := filepath.Clean(target.Directory)
	if p.sameHost(target.Server) {
		plan.SourceSpec = cleanSource + "/"
	} else {
		plan.SourceSpec = fmt.Sprintf("%s@%s:%s/", p.remoteUser, target.Server, cleanSource)
	}

	// Hard-link against the most recent prior snapshot that actually
	// captured this directory.
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] == today {
			continue
		}
		if p.store.SnapshotExistsFor(serverRoot, dates[i], relDir) {
			plan.LinkDestPath = filepath.Join(serverRoot, dates[i], relDir)
			break
		}
	}

	p.logger.Debug().
		Str("source", plan.SourceSpec).
		Str("destination", plan.DestinationPath).
		Str("link_dest", plan.LinkDestPath).
		Msg("sync plan built")

	return plan, nil
}

// sameHost compares the configured server name with the local hostname.
// Short name and fully-qualified name both count as a match.
func (p *Planner) sameHost(server string) bool {
	hostname, err := p.hostname()
	if err != nil {
		return false
	}
	if hostname == server {
		return true
	}
	return shortName(hostname) == shortName(server)
}

func shortName(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

// RelativeDir strips the leading path separator so /etc/foo is stored under
// <date>/etc/foo. Paths that resolve to nothing or escape the snapshot root
// are configuration errors.
func RelativeDir(dir string) (string, error) {
	rel := strings.TrimPrefix(filepath.Clean(dir), string(filepath.Separator))
	if rel == "" || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &models.ConfigError{Problems: []string{fmt.Sprintf("directory %q is not a usable backup path", dir)}}
	}
	return rel, nil
}

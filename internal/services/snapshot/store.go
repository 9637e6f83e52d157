// Package snapshot is the filesystem-backed registry of dated snapshot
// directories under a server's backup root.
package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/itchyny/timefmt-go"
	"github.com/rs/zerolog"
)

// Store answers which snapshots exist for a server root. All state lives in
// the directory names on disk; nothing is cached across calls.
type Store struct {
	dateFormat string // strftime layout, e.g. %Y%m%d
	logger     zerolog.Logger
}

// New creates a snapshot store for the given strftime date format.
func New(dateFormat string, logger zerolog.Logger) *Store {
	return &Store{
		dateFormat: dateFormat,
		logger:     logger,
	}
}

// Today renders the snapshot date for the given moment. Computed once per
// run so a run spanning midnight keeps a single date.
func (s *Store) Today(now time.Time) string {
	return timefmt.Format(now, s.dateFormat)
}

// IsValidDate reports whether a directory name parses under the configured
// date format. The round-trip guards against lenient partial parses.
func (s *Store) IsValidDate(name string) bool {
	parsed, err := timefmt.Parse(name, s.dateFormat)
	if err != nil {
		return false
	}
	return timefmt.Format(parsed, s.dateFormat) == name
}

// ListDates lists the snapshot dates present under root, ascending.
// Directory names that do not parse under the date format are ignored.
// A missing root yields an empty list, not an error.
func (s *Store) ListDates(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("root", root).Msg("cannot list backup root")
		}
		return nil
	}

	var dates []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.IsValidDate(entry.Name()) {
			dates = append(dates, entry.Name())
		}
	}

	// Lexicographic order is chronological for fixed-width,
	// most-significant-first formats like %Y%m%d.
	sort.Strings(dates)
	return dates
}

// Latest returns the most recent snapshot date, excluding the in-progress
// run's own date.
func (s *Store) Latest(dates []string, today string) (string, bool) {
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] != today {
			return dates[i], true
		}
	}
	return "", false
}

// OldestBeyondRetention returns the single oldest date, but only when the
// set exceeds the retention count. Pruning removes exactly one snapshot per
// invocation, so repeated runs converge one day at a time.
func (s *Store) OldestBeyondRetention(dates []string, retention int) (string, bool) {
	if len(dates) > retention && len(dates) > 0 {
		return dates[0], true
	}
	return "", false
}

// SnapshotExistsFor reports whether the snapshot for date actually captured
// the given relative directory. A date folder can exist for one directory
// but not another when directories are added to the configuration over time.
func (s *Store) SnapshotExistsFor(root, date, relDir string) bool {
	info, err := os.Stat(filepath.Join(root, date, relDir))
	return err == nil && info.IsDir()
}

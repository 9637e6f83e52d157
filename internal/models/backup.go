package models

import "time"

// RunOptions are the per-invocation settings for a backup run.
type RunOptions struct {
	ServerFilter string // empty means all servers
	DryRun       bool
	Verbose      bool
}

// SyncPlan is the side-effect-free transfer description for one
// (server, directory) pair. It is consumed by the rsync invoker.
type SyncPlan struct {
	Server          string
	SourceSpec      string // local path or user@server:path/, always slash-terminated
	DestinationPath string
	RelativeDir     string
	ExcludePatterns []string
	LinkDestPath    string // empty means full copy
	Skip            bool   // destination already captured today
}

// SyncResult holds the outcome of one rsync invocation.
type SyncResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// PruneResult holds the outcome of one retention pass over a server root.
type PruneResult struct {
	Removed     string // date of the removed snapshot, empty if none
	WouldRemove string // set instead of Removed under dry-run
	Kept        int
	Error       error
}

// ReportMode selects how much snapshot detail the check command prints.
type ReportMode string

const (
	ReportCount  ReportMode = "count"
	ReportFull   ReportMode = "full"
	ReportLatest ReportMode = "latest"
)

// DirectoryReport is the check result for one backed-up directory.
type DirectoryReport struct {
	Directory string
	Count     int
	Dates     []string // populated for ReportFull
	Latest    string   // populated for ReportLatest and ReportFull
}

// ServerReport is the check result for one server root.
type ServerReport struct {
	Server      string
	Directories []DirectoryReport
}

// RunSummary accumulates per-target outcomes for logging and mail.
type RunSummary struct {
	Date     string
	Synced   int
	Skipped  int
	Failed   int
	Pruned   []string
	Duration time.Duration
}

package models

import (
	"fmt"
	"strings"
)

// ConfigError aggregates every missing or malformed configuration field
// found during load. It is fatal and reported before any side effect.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// TransferError is a failed rsync invocation. The run continues with the
// next directory.
type TransferError struct {
	Server    string
	Directory string
	Output    string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s:%s failed: %v", e.Server, e.Directory, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// FilesystemError is a failed directory creation or removal on the
// backup root.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ResourceError is a failed mount, unmount, unlock or lock. It aborts the
// run for the affected backup root.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Package executil wraps external command invocation behind a mockable
// interface shared by the services that shell out to system tools.
package executil

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
	ExecuteSplit(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
	ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// ExecuteSplit runs a command and returns stdout and stderr separately.
func (e *DefaultExecutor) ExecuteSplit(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecuteWithInput runs a command feeding input on stdin and returns its
// combined output. Used for cryptsetup key material.
func (e *DefaultExecutor) ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)
	return cmd.CombinedOutput()
}

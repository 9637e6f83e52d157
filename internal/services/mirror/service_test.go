package mirror

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	commands [][]string
	results  []error
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.commands = append(m.commands, append([]string{name}, args...))
	if len(m.results) > 0 {
		err := m.results[0]
		m.results = m.results[1:]
		return nil, err
	}
	return nil, nil
}

func (m *mockExecutor) ExecuteSplit(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return nil, nil, nil
}

func (m *mockExecutor) ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	return nil, nil
}

func testConfig(t *testing.T, locations ...models.MirrorLocation) models.MirrorConfig {
	t.Helper()
	return models.MirrorConfig{Locations: locations}
}

func TestSync_Rsync(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)
	dest := filepath.Join(t.TempDir(), "debian", "main")

	result, err := svc.Sync(context.Background(), testConfig(t, models.MirrorLocation{
		Protocol:    "rsync",
		Source:      "rsync://mirror.example.org/debian/main",
		Destination: dest,
	}), false)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Failed)
	assert.DirExists(t, dest)

	require.Len(t, executor.commands, 1)
	assert.Equal(t, []string{
		"rsync", "-a", "--delete",
		"rsync://mirror.example.org/debian/main/", dest + "/",
	}, executor.commands[0])
}

func TestSync_HTTP(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)
	dest := filepath.Join(t.TempDir(), "archive")

	result, err := svc.Sync(context.Background(), testConfig(t, models.MirrorLocation{
		Protocol:    "https",
		Source:      "https://mirror.example.org/archive",
		Destination: dest,
	}), false)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	require.Len(t, executor.commands, 1)
	assert.Equal(t, []string{
		"wget", "--mirror", "--no-parent", "--no-host-directories",
		"--directory-prefix", dest,
		"https://mirror.example.org/archive",
	}, executor.commands[0])
}

func TestSync_DryRun(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)
	dir := t.TempDir()

	_, err := svc.Sync(context.Background(), testConfig(t,
		models.MirrorLocation{Protocol: "rsync", Source: "src", Destination: filepath.Join(dir, "a")},
		models.MirrorLocation{Protocol: "http", Source: "http://src", Destination: filepath.Join(dir, "b")},
	), true)

	require.NoError(t, err)
	require.Len(t, executor.commands, 2)
	assert.Contains(t, executor.commands[0], "--dry-run")
	assert.Contains(t, executor.commands[1], "--spider")
}

func TestSync_RetriesThenSucceeds(t *testing.T) {
	executor := &mockExecutor{results: []error{errors.New("timeout"), nil}}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)

	result, err := svc.Sync(context.Background(), testConfig(t, models.MirrorLocation{
		Protocol:    "rsync",
		Source:      "src",
		Destination: filepath.Join(t.TempDir(), "a"),
	}), false)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Len(t, executor.commands, 2)
}

func TestSync_FailedLocationDoesNotAbortOthers(t *testing.T) {
	// First location fails on every attempt (initial try plus retries),
	// the second succeeds immediately.
	executor := &mockExecutor{results: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		nil,
	}}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)
	dir := t.TempDir()

	result, err := svc.Sync(context.Background(), testConfig(t,
		models.MirrorLocation{Protocol: "rsync", Source: "bad", Destination: filepath.Join(dir, "a")},
		models.MirrorLocation{Protocol: "rsync", Source: "good", Destination: filepath.Join(dir, "b")},
	), false)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Synced)
}

func TestSync_UnsupportedProtocolIsNotRetried(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)

	result, err := svc.Sync(context.Background(), testConfig(t, models.MirrorLocation{
		Protocol:    "ftp",
		Source:      "ftp://mirror.example.org",
		Destination: filepath.Join(t.TempDir(), "a"),
	}), false)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, executor.commands)
}

func TestSync_CancelledContext(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(zerolog.New(io.Discard), executor)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Sync(ctx, testConfig(t, models.MirrorLocation{
		Protocol:    "rsync",
		Source:      "src",
		Destination: filepath.Join(t.TempDir(), "a"),
	}), false)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, executor.commands)
}

package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/jwdevries/sysbackup/internal/services/mail"
	"github.com/jwdevries/sysbackup/internal/services/planner"
	"github.com/jwdevries/sysbackup/internal/services/prune"
	"github.com/jwdevries/sysbackup/internal/services/snapshot"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRsync simulates transfers by dropping a file into the destination.
type mockRsync struct {
	syncFunc func(ctx context.Context, plan models.SyncPlan, opts models.RunOptions) (*models.SyncResult, error)
	plans    []models.SyncPlan
}

func (m *mockRsync) Sync(ctx context.Context, plan models.SyncPlan, opts models.RunOptions) (*models.SyncResult, error) {
	m.plans = append(m.plans, plan)
	if m.syncFunc != nil {
		return m.syncFunc(ctx, plan, opts)
	}
	if !opts.DryRun {
		if err := os.WriteFile(filepath.Join(plan.DestinationPath, "payload"), []byte("x"), 0o644); err != nil {
			return nil, err
		}
	}
	return &models.SyncResult{Success: true}, nil
}

type mockMount struct {
	mountCalls   int
	unmountCalls int
	mountErr     error
}

func (m *mockMount) Mount(ctx context.Context, cfg models.MountConfig) error {
	m.mountCalls++
	return m.mountErr
}

func (m *mockMount) Unmount(ctx context.Context, mountPoint string) error {
	m.unmountCalls++
	return nil
}

func (m *mockMount) IsMounted(mountPoint string) bool { return false }

type mockWOL struct {
	calls int
	err   error
}

func (m *mockWOL) Wake(ctx context.Context, cfg models.WOLConfig) error {
	m.calls++
	return m.err
}

type mockSender struct {
	subjects []string
	bodies   []string
}

func (m *mockSender) Send(ctx context.Context, cfg models.MailConfig, subject, body string) error {
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return nil
}

type runnerFixture struct {
	impl    *Impl
	rsync   *mockRsync
	mount   *mockMount
	wolMock *mockWOL
	sender  *mockSender
	root    string
}

func newFixture(t *testing.T, cfg models.Config) *runnerFixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	if cfg.BackupLocation == "" {
		cfg.BackupLocation = t.TempDir()
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "%Y%m%d"
	}
	if cfg.RemoteUser == "" {
		cfg.RemoteUser = "root"
	}

	store := snapshot.New(cfg.DateFormat, logger)
	f := &runnerFixture{
		rsync:   &mockRsync{},
		mount:   &mockMount{},
		wolMock: &mockWOL{},
		sender:  &mockSender{},
		root:    cfg.BackupLocation,
	}

	var notifier *mail.Notifier
	if cfg.Mail != nil {
		notifier = mail.NewNotifierWithSender(cfg.Mail, f.sender, logger)
	} else {
		notifier = mail.NewNotifier(nil, logger)
	}

	plannerSvc := planner.NewWithHostname(store, cfg.RemoteUser, func() (string, error) {
		return "backuphost", nil
	}, logger)

	f.impl = NewWithServices(cfg, store, plannerSvc, f.rsync, prune.New(store, logger),
		f.mount, nil, f.wolMock, notifier, logger)
	return f
}

func TestRun_FirstRunCreatesSnapshot(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{}))

	require.Len(t, f.rsync.plans, 1)
	plan := f.rsync.plans[0]
	assert.Equal(t, "root@web1:/etc/nginx/", plan.SourceSpec)
	assert.Empty(t, plan.LinkDestPath)

	today := f.impl.store.Today(time.Now())
	assert.DirExists(t, filepath.Join(f.root, "web1", today, "etc", "nginx"))
}

func TestRun_SecondSameDayRunSkips(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	ctx := context.Background()

	require.NoError(t, f.impl.Run(ctx, models.RunOptions{}))
	require.NoError(t, f.impl.Run(ctx, models.RunOptions{}))

	// The second run found today's capture already present.
	assert.Len(t, f.rsync.plans, 1)
}

func TestRun_LinkDestPointsAtPriorSnapshot(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "web1", "20200101", "etc", "nginx"), 0o755))

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{}))

	require.Len(t, f.rsync.plans, 1)
	assert.Equal(t, filepath.Join(f.root, "web1", "20200101", "etc", "nginx"), f.rsync.plans[0].LinkDestPath)
}

func TestRun_RetentionPrunesOldest(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	for _, date := range []string{"20200101", "20200102", "20200103"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.root, "web1", date, "etc", "nginx"), 0o755))
	}

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{}))

	// Today's snapshot makes four, one above the limit of three.
	assert.NoDirExists(t, filepath.Join(f.root, "web1", "20200101"))
	assert.DirExists(t, filepath.Join(f.root, "web1", "20200102"))
}

func TestRun_FailedTransferRemovesDestination(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	f.rsync.syncFunc = func(ctx context.Context, plan models.SyncPlan, opts models.RunOptions) (*models.SyncResult, error) {
		return &models.SyncResult{
			Success: false,
			Error:   &models.TransferError{Server: plan.Server, Directory: plan.RelativeDir, Err: errors.New("exit status 10")},
		}, nil
	}
	ctx := context.Background()

	require.NoError(t, f.impl.Run(ctx, models.RunOptions{}))

	today := f.impl.store.Today(time.Now())
	assert.NoDirExists(t, filepath.Join(f.root, "web1", today, "etc", "nginx"))

	// Next run retries instead of skipping.
	f.rsync.syncFunc = nil
	require.NoError(t, f.impl.Run(ctx, models.RunOptions{}))
	assert.Len(t, f.rsync.plans, 2)
	assert.DirExists(t, filepath.Join(f.root, "web1", today, "etc", "nginx"))
}

func TestRun_FailureInOneDirectoryDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
			{Server: "web1", Directory: "/var/lib/app"},
		},
	})
	f.rsync.syncFunc = func(ctx context.Context, plan models.SyncPlan, opts models.RunOptions) (*models.SyncResult, error) {
		if plan.RelativeDir == "etc/nginx" {
			return &models.SyncResult{
				Success: false,
				Error:   &models.TransferError{Server: plan.Server, Directory: plan.RelativeDir, Err: errors.New("boom")},
			}, nil
		}
		return &models.SyncResult{Success: true}, nil
	}

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{}))

	assert.Len(t, f.rsync.plans, 2)
}

func TestRun_MountAndUnmountBracketTheRun(t *testing.T) {
	f := newFixture(t, models.Config{
		NeedMountFS:      true,
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{}))

	assert.Equal(t, 1, f.mount.mountCalls)
	assert.Equal(t, 1, f.mount.unmountCalls)
}

func TestRun_MountFailureAborts(t *testing.T) {
	f := newFixture(t, models.Config{
		NeedMountFS:      true,
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	f.mount.mountErr = errors.New("no such device")

	err := f.impl.Run(context.Background(), models.RunOptions{})

	require.Error(t, err)
	assert.Empty(t, f.rsync.plans)
	assert.Zero(t, f.mount.unmountCalls)
}

func TestRun_WakeOnLANFailureAborts(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		WOL:              &models.WOLConfig{MACAddress: "aa:bb:cc:dd:ee:ff"},
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	f.wolMock.err = errors.New("network unreachable")

	err := f.impl.Run(context.Background(), models.RunOptions{})

	var resErr *models.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Empty(t, f.rsync.plans)
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 1,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	for _, date := range []string{"20200101", "20200102"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.root, "web1", date, "etc", "nginx"), 0o755))
	}

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{DryRun: true}))

	require.Len(t, f.rsync.plans, 1)
	today := f.impl.store.Today(time.Now())
	assert.NoDirExists(t, filepath.Join(f.root, "web1", today))
	assert.DirExists(t, filepath.Join(f.root, "web1", "20200101"))
}

func TestRun_ServerFilter(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
			{Server: "db1", Directory: "/var/lib/postgresql"},
		},
	})

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{ServerFilter: "db1"}))

	require.Len(t, f.rsync.plans, 1)
	assert.Equal(t, "db1", f.rsync.plans[0].Server)
}

func TestRun_SummaryMailSentOnce(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Mail: &models.MailConfig{
			SMTPHost: "localhost", SMTPPort: 25,
			From: "backup@example.org", To: []string{"admin@example.org"},
		},
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})

	require.NoError(t, f.impl.Run(context.Background(), models.RunOptions{}))

	require.Len(t, f.sender.subjects, 1)
	assert.Contains(t, f.sender.subjects[0], "ok")
	assert.Contains(t, f.sender.bodies[0], "synced")
}

func TestCheckBackups(t *testing.T) {
	f := newFixture(t, models.Config{
		NumberOfVersions: 3,
		Targets: []models.BackupTarget{
			{Server: "web1", Directory: "/etc/nginx"},
		},
	})
	for _, date := range []string{"20200101", "20200103"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.root, "web1", date, "etc", "nginx"), 0o755))
	}
	// A date that never captured this directory does not count.
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "web1", "20200102", "var"), 0o755))

	reports, err := f.impl.CheckBackups(models.ReportFull, "")

	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Directories, 1)
	dir := reports[0].Directories[0]
	assert.Equal(t, 2, dir.Count)
	assert.Equal(t, "20200103", dir.Latest)
	assert.Equal(t, []string{"20200101", "20200103"}, dir.Dates)
}

func TestMountOnlyAndUnmountOnly(t *testing.T) {
	f := newFixture(t, models.Config{NeedMountFS: true})

	require.NoError(t, f.impl.MountOnly(context.Background()))
	require.NoError(t, f.impl.UnmountOnly(context.Background()))

	assert.Equal(t, 1, f.mount.mountCalls)
	assert.Equal(t, 1, f.mount.unmountCalls)
}

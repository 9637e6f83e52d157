package checksvc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/fatih/color"
	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// mockSSHClient answers commands from a canned response table.
type mockSSHClient struct {
	responses map[string]string
	commands  []string
}

func (m *mockSSHClient) Output(cmd string) ([]byte, error) {
	m.commands = append(m.commands, cmd)
	if response, ok := m.responses[cmd]; ok {
		return []byte(response), nil
	}
	return nil, nil
}

func (m *mockSSHClient) Close() error { return nil }

type mockFactory struct {
	clients map[string]*mockSSHClient
	dialed  []string
	err     error
}

func (m *mockFactory) NewClient(addr string, config *ssh.ClientConfig) (SSHClient, error) {
	m.dialed = append(m.dialed, addr)
	if m.err != nil {
		return nil, m.err
	}
	if client, ok := m.clients[addr]; ok {
		return client, nil
	}
	return &mockSSHClient{}, nil
}

func testServicesConfig(user string) models.ServicesConfig {
	return models.ServicesConfig{
		User: user,
		Hosts: []models.ServiceHost{
			{Hostname: "web1", Services: []string{"nginx", "sshd"}, Custom: []string{"df -h /"}},
			{Hostname: "db1", Services: []string{"postgresql"}},
		},
	}
}

func newCheckFixture(factory *mockFactory) (*Impl, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewWithFactory(zerolog.New(io.Discard), factory, out), out
}

func TestCheck_FullMode(t *testing.T) {
	color.NoColor = true
	web1 := &mockSSHClient{responses: map[string]string{
		"/usr/bin/systemctl status nginx sshd": "nginx active\nsshd active",
		"df -h /":                              "/dev/sda1 40% /",
	}}
	factory := &mockFactory{clients: map[string]*mockSSHClient{"web1:22": web1}}
	svc, out := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("root"), Options{Password: "secret"})

	require.NoError(t, err)
	assert.Equal(t, []string{"web1:22", "db1:22"}, factory.dialed)
	assert.Contains(t, out.String(), "WEB1")
	assert.Contains(t, out.String(), "nginx active")
	assert.Contains(t, out.String(), "/dev/sda1 40% /")
}

func TestCheck_ShortMode(t *testing.T) {
	color.NoColor = true
	web1 := &mockSSHClient{responses: map[string]string{
		"/usr/bin/systemctl is-active nginx": "active\n",
		"/usr/bin/systemctl is-active sshd":  "failed\n",
	}}
	factory := &mockFactory{clients: map[string]*mockSSHClient{"web1:22": web1}}
	svc, out := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("root"),
		Options{Host: "web1", Short: true, Password: "secret"})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Service name")
	assert.Contains(t, out.String(), "active")
	assert.Contains(t, out.String(), "failed")
	// Short mode never runs the custom commands.
	assert.NotContains(t, web1.commands, "df -h /")
}

func TestCheck_ShortErrorShowsJournal(t *testing.T) {
	color.NoColor = true
	web1 := &mockSSHClient{responses: map[string]string{
		"/usr/bin/systemctl is-active nginx": "failed\n",
		"/usr/bin/systemctl is-active sshd":  "active\n",
		"/usr/bin/journalctl -n5 -u nginx":   "nginx: config test failed",
	}}
	factory := &mockFactory{clients: map[string]*mockSSHClient{"web1:22": web1}}
	svc, out := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("root"),
		Options{Host: "web1", ShortError: true, Password: "secret"})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "config test failed")
	assert.Contains(t, web1.commands, "/usr/bin/journalctl -n5 -u nginx")
}

func TestCheck_NonRootUsesSudo(t *testing.T) {
	color.NoColor = true
	web1 := &mockSSHClient{}
	factory := &mockFactory{clients: map[string]*mockSSHClient{"web1:22": web1}}
	svc, _ := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("admin"),
		Options{Host: "web1", Password: "secret"})

	require.NoError(t, err)
	assert.Contains(t, web1.commands, "sudo /usr/bin/systemctl status nginx sshd")
	assert.Contains(t, web1.commands, "sudo df -h /")
}

func TestCheck_HostFilter(t *testing.T) {
	factory := &mockFactory{}
	svc, _ := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("root"),
		Options{Host: "db1", Password: "secret"})

	require.NoError(t, err)
	assert.Equal(t, []string{"db1:22"}, factory.dialed)
}

func TestCheck_CustomOnly(t *testing.T) {
	color.NoColor = true
	web1 := &mockSSHClient{responses: map[string]string{"df -h /": "/dev/sda1 40% /"}}
	factory := &mockFactory{clients: map[string]*mockSSHClient{"web1:22": web1}}
	svc, out := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("root"),
		Options{Host: "web1", CustomOnly: true, Password: "secret"})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "/dev/sda1 40% /")
	assert.NotContains(t, web1.commands, "/usr/bin/systemctl status nginx sshd")
}

func TestCheck_UnreachableHostIsSkipped(t *testing.T) {
	factory := &mockFactory{err: errors.New("connection refused")}
	svc, out := newCheckFixture(factory)

	err := svc.Check(context.Background(), testServicesConfig("root"), Options{Password: "secret"})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "error connecting to web1")
	assert.Contains(t, out.String(), "error connecting to db1")
}

func TestCheck_RequiresCredentials(t *testing.T) {
	svc, _ := newCheckFixture(&mockFactory{})

	err := svc.Check(context.Background(), testServicesConfig("root"), Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SSH key or password")
}

func TestDistroID(t *testing.T) {
	client := &mockSSHClient{responses: map[string]string{
		"cat /etc/os-release": "NAME=\"Debian GNU/Linux\"\nID=debian\nVERSION_ID=\"12\"\n",
	}}
	svc, _ := newCheckFixture(&mockFactory{})

	assert.Equal(t, "debian", svc.distroID(client))
	assert.Equal(t, "unknown", svc.distroID(&mockSSHClient{}))
}

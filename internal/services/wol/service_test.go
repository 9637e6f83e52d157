package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	broadcastIP string
	mac         net.HardwareAddr
	err         error
}

func (m *mockClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	m.broadcastIP = broadcastIP
	m.mac = mac
	return m.err
}

func TestWake(t *testing.T) {
	client := &mockClient{}
	svc := NewWithClient(zerolog.New(io.Discard), client)

	err := svc.Wake(context.Background(), models.WOLConfig{
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		BroadcastIP: "192.168.1.255",
	})

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.255", client.broadcastIP)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", client.mac.String())
}

func TestWake_InvalidMAC(t *testing.T) {
	client := &mockClient{}
	svc := NewWithClient(zerolog.New(io.Discard), client)

	err := svc.Wake(context.Background(), models.WOLConfig{MACAddress: "not-a-mac"})

	require.Error(t, err)
	assert.Empty(t, client.broadcastIP)
}

func TestWake_ClientError(t *testing.T) {
	client := &mockClient{err: errors.New("network unreachable")}
	svc := NewWithClient(zerolog.New(io.Discard), client)

	err := svc.Wake(context.Background(), models.WOLConfig{
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		BroadcastIP: "255.255.255.255",
	})

	assert.ErrorContains(t, err, "network unreachable")
}

func TestWake_SettleWaitCancelledByContext(t *testing.T) {
	client := &mockClient{}
	svc := NewWithClient(zerolog.New(io.Discard), client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Wake(ctx, models.WOLConfig{
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		BroadcastIP: "255.255.255.255",
		SettleWait:  time.Minute,
	})

	require.ErrorIs(t, err, context.Canceled)
	// The packet itself still went out before the wait.
	assert.Equal(t, "255.255.255.255", client.broadcastIP)
}

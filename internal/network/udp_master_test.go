package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/master"
)

func startListener(t *testing.T, mutate func(m *config.MasterConfig)) (*UDPMasterListener, *net.UDPAddr) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Master.ListenAddress = "127.0.0.1"
	cfg.Master.Port = 0
	cfg.Master.PollIntervalMs = 5
	if mutate != nil {
		mutate(&cfg.Master)
	}

	l := NewUDPMasterListener(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()

	select {
	case <-l.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("listener failed to start: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("listener did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
	})

	return l, l.LocalAddr().(*net.UDPAddr)
}

func dial(t *testing.T, addr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *net.UDPConn, payload string) string {
	t.Helper()
	if payload != "" {
		_, err := conn.Write([]byte(payload))
		require.NoError(t, err)
	}
	return read(t, conn)
}

func read(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func expectSilence(t *testing.T, conn *net.UDPConn, wait time.Duration) {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	n, err := conn.Read(buf)
	assert.Error(t, err, "unexpected datagram %q", string(buf[:n]))
}

func TestLoopbackFullJoin(t *testing.T) {
	l, addr := startListener(t, nil)

	host := dial(t, addr)
	client := dial(t, addr)
	player := dial(t, addr)

	assert.Equal(t, "ssack eu", exchange(t, host, "stser eu"))

	_, err := client.Write([]byte("stlob eu:m1"))
	require.NoError(t, err)
	assert.Equal(t, "stlob eu:m1", read(t, host))

	_, err = host.Write([]byte("slack eu:m1"))
	require.NoError(t, err)
	assert.Equal(t, "slack eu:m1", read(t, client))

	assert.Equal(t, "psack eu", exchange(t, player, "pslis p1"))

	playerEP := player.LocalAddr().String()
	_, err = player.Write([]byte("pjoin p1:eu:m1"))
	require.NoError(t, err)
	assert.Equal(t, "pjoin p1:"+playerEP+":eu:m1", read(t, host))

	_, err = host.Write([]byte("pjack p1:" + playerEP + ":eu:m1"))
	require.NoError(t, err)
	assert.Equal(t, "pjack p1:"+host.LocalAddr().String(), read(t, player))

	require.Eventually(t, func() bool {
		snap := l.Snapshot()
		return len(snap.Lobbies) == 1 && len(snap.Lobbies[0].Roster) == 1 && len(snap.Pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	snap := l.Snapshot()
	assert.Equal(t, host.LocalAddr().String(), snap.Lobbies[0].Host)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "eu:m1", snap.Players[0].Lobby)
}

func TestLoopbackRetransmitBound(t *testing.T) {
	l, addr := startListener(t, func(m *config.MasterConfig) {
		m.RetransmitTimeoutMs = 30
		m.RetryBudget = 2
	})

	host := dial(t, addr)
	client := dial(t, addr)

	assert.Equal(t, "ssack eu", exchange(t, host, "stser eu"))
	_, err := client.Write([]byte("stlob eu:m1"))
	require.NoError(t, err)

	// The forward plus two retransmissions, then nothing.
	for i := 0; i < 3; i++ {
		assert.Equal(t, "stlob eu:m1", read(t, host))
	}
	expectSilence(t, host, 200*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(l.Snapshot().Pending) == 0
	}, time.Second, 10*time.Millisecond)
	expectSilence(t, client, 10*time.Millisecond)
}

func TestLoopbackRejectsOversize(t *testing.T) {
	_, addr := startListener(t, nil)
	conn := dial(t, addr)

	big := make([]byte, config.DefaultBufferSize+100)
	copy(big, "stser ")
	for i := len("stser "); i < len(big); i++ {
		big[i] = 'x'
	}
	_, err := conn.Write(big)
	require.NoError(t, err)
	expectSilence(t, conn, 100*time.Millisecond)

	assert.Equal(t, "ssack eu", exchange(t, conn, "stser eu"))
}

func TestDoRunsOnLoop(t *testing.T) {
	l, addr := startListener(t, nil)
	host := dial(t, addr)
	assert.Equal(t, "ssack eu", exchange(t, host, "stser eu"))

	var regions []string
	err := l.Do(context.Background(), func(d *master.Dispatcher) {
		for _, r := range d.Snapshot().Regions {
			regions = append(regions, r.Name)
		}
		d.Clear(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eu"}, regions)

	require.Eventually(t, func() bool {
		return len(l.Snapshot().Regions) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDoAfterStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Master.ListenAddress = "127.0.0.1"
	cfg.Master.Port = 0
	l := NewUDPMasterListener(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()
	<-l.Ready()
	cancel()
	require.NoError(t, <-errCh)

	err := l.Do(context.Background(), func(d *master.Dispatcher) {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSendRejectsBadEndpoint(t *testing.T) {
	l, _ := startListener(t, nil)
	assert.Error(t, l.Send([]byte("ssack eu"), "not-an-endpoint"))
	assert.Empty(t, l.Snapshot().Regions)
}

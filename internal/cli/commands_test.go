package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/db"
	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/ledger"
	"github.com/energizer-project/lobbymaster/internal/master"
	"github.com/energizer-project/lobbymaster/internal/registry"
)

type nopSender struct{}

func (nopSender) Send([]byte, string) error { return nil }

type inlineCoordinator struct{ d *master.Dispatcher }

func (c *inlineCoordinator) Snapshot() master.Snapshot { return c.d.Snapshot() }

func (c *inlineCoordinator) Do(ctx context.Context, fn func(d *master.Dispatcher)) error {
	fn(c.d)
	return nil
}

type staticJournal []db.JournalEntry

func (j staticJournal) Recent(ctx context.Context, limit int) ([]db.JournalEntry, error) {
	if limit < len(j) {
		return j[:limit], nil
	}
	return j, nil
}

func newSeededCoordinator() *inlineCoordinator {
	ctx := context.Background()
	d := master.NewDispatcher(registry.New(), ledger.New(), nopSender{}, nil)
	d.Handle(ctx, []byte("stser eu"), "10.0.0.1:5000")
	d.Handle(ctx, []byte("stlob eu:m1"), "10.0.0.50:6000")
	d.Handle(ctx, []byte("slack eu:m1"), "10.0.0.1:5000")
	d.Handle(ctx, []byte("pslis p1"), "10.0.0.3:7000")
	d.Handle(ctx, []byte("pjoin p1:eu:m1"), "10.0.0.3:7000")
	d.Handle(ctx, []byte("pjack p1:10.0.0.3:7000:eu:m1"), "10.0.0.1:5000")
	return &inlineCoordinator{d: d}
}

func run(t *testing.T, c *CLI, cmd string, args ...string) (string, error) {
	t.Helper()
	out := c.out.(*bytes.Buffer)
	out.Reset()
	err := c.execute(context.Background(), cmd, args)
	return out.String(), err
}

func TestListings(t *testing.T) {
	coord := newSeededCoordinator()
	c := NewCLI(config.DefaultConfig(), nil, coord, nil, strings.NewReader(""), &bytes.Buffer{})

	out, err := run(t, c, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0.0.0.0:8484")

	out, _ = run(t, c, "lobbies")
	assert.Contains(t, out, "eu:m1")
	assert.Contains(t, out, "10.0.0.1:5000")

	out, _ = run(t, c, "lobbies", "us")
	assert.NotContains(t, out, "eu:m1")

	out, _ = run(t, c, "players")
	assert.Contains(t, out, "10.0.0.3:7000")

	out, _ = run(t, c, "regions")
	assert.Contains(t, out, "eu")

	coord.d.Handle(context.Background(), []byte("stser eu"), "10.0.0.2:5000")
	coord.d.Handle(context.Background(), []byte("stlob eu:m2"), "10.0.0.50:6000")
	out, _ = run(t, c, "pending")
	assert.Contains(t, out, "eu:m2")
	assert.Contains(t, out, "10.0.0.2:5000")

	out, _ = run(t, c, "bogus")
	assert.Contains(t, out, "Unknown command")
}

func TestCloseAndClear(t *testing.T) {
	coord := newSeededCoordinator()
	c := NewCLI(config.DefaultConfig(), nil, coord, nil, strings.NewReader(""), &bytes.Buffer{})

	_, err := run(t, c, "close")
	assert.Error(t, err)
	_, err = run(t, c, "close", "nocolon")
	assert.Error(t, err)

	out, err := run(t, c, "close", "eu:m1")
	require.NoError(t, err)
	assert.Contains(t, out, "evicted 1 player(s)")
	assert.Empty(t, coord.Snapshot().Lobbies)

	_, err = run(t, c, "close", "eu:m1")
	assert.ErrorIs(t, err, registry.ErrUnknownLobby)

	_, err = run(t, c, "clear")
	require.NoError(t, err)
	assert.Empty(t, coord.Snapshot().Players)
}

func TestJournalCommand(t *testing.T) {
	coord := newSeededCoordinator()
	c := NewCLI(config.DefaultConfig(), nil, coord, nil, strings.NewReader(""), &bytes.Buffer{})
	_, err := run(t, c, "journal")
	assert.Error(t, err)

	c.journal = staticJournal{
		{EventType: "lobby_created", Lobby: "eu:m1", CreatedAt: time.Now()},
		{EventType: "player_joined", Lobby: "eu:m1", Player: "p1", CreatedAt: time.Now()},
	}
	out, err := run(t, c, "journal", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "lobby_created")
	assert.NotContains(t, out, "player_joined")

	_, err = run(t, c, "journal", "x")
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	cfg := config.DefaultConfig()
	c := NewCLI(cfg, nil, newSeededCoordinator(), nil, strings.NewReader(""), &bytes.Buffer{})

	_, err := run(t, c, "loglevel", "nonsense")
	assert.Error(t, err)

	_, err = run(t, c, "loglevel", "WARN")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.Equal(t, "warn", cfg.GetLogging().Level)
}

func TestStartQuitEmitsShutdown(t *testing.T) {
	bus := events.NewEventBus()
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	})

	out := &bytes.Buffer{}
	c := NewCLI(config.DefaultConfig(), bus, newSeededCoordinator(), nil, strings.NewReader("help\n\nquit\nstatus\n"), out)
	c.Start(context.Background())

	select {
	case e := <-got:
		assert.Equal(t, "cli", e.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown event not emitted")
	}
	assert.Contains(t, out.String(), "close <region:lobby>")
	assert.NotContains(t, out.String(), "0.0.0.0:8484", "commands after quit are not run")
}

func TestStartStopsAtEOF(t *testing.T) {
	done := make(chan struct{})
	c := NewCLI(config.DefaultConfig(), nil, newSeededCoordinator(), nil, strings.NewReader("status\n"), &bytes.Buffer{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop at EOF")
	}
}

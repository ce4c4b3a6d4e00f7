package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitStampsSequence(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	seen := make(map[EventType]Event)
	bus.SubscribeAll("test", func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type] = e
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLobbyCreated})
	bus.Emit(context.Background(), Event{Type: EventPlayerJoined})
	bus.Emit(context.Background(), Event{Type: EventLobbyClosed})
	bus.Stop()

	require.Len(t, seen, 3)
	assert.EqualValues(t, 1, seen[EventLobbyCreated].Seq)
	assert.EqualValues(t, 2, seen[EventPlayerJoined].Seq)
	assert.EqualValues(t, 3, seen[EventLobbyClosed].Seq)
	assert.False(t, seen[EventLobbyCreated].Time.IsZero())
}

func TestStopRejectsEvents(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	bus.Subscribe(EventShutdown, "test", func(ctx context.Context, e Event) error {
		calls++
		return nil
	})
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.Drain()
	assert.Zero(t, calls)
	assert.Equal(t, 1, bus.HandlerCount(EventShutdown))
}

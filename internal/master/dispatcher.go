// Package master implements the matchmaking command state machine on top of
// the registry and the pending-request ledger.
package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/ledger"
	"github.com/energizer-project/lobbymaster/internal/protocol"
	"github.com/energizer-project/lobbymaster/internal/registry"
	"github.com/energizer-project/lobbymaster/internal/util"
)

// Sender delivers one datagram to an endpoint ("ip:port").
type Sender interface {
	Send(payload []byte, to string) error
}

// Snapshot is a read-only copy of all coordinator state.
type Snapshot struct {
	registry.Snapshot
	Pending []ledger.PendingRequest `json:"pending"`
	TakenAt time.Time               `json:"taken_at"`
}

// Dispatcher routes decoded datagrams to their handlers. It owns no
// goroutines and must be driven from a single goroutine.
type Dispatcher struct {
	reg     *registry.Registry
	pending *ledger.Ledger
	sender  Sender
	bus     *events.EventBus
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(reg *registry.Registry, pending *ledger.Ledger, sender Sender, bus *events.EventBus) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		pending: pending,
		sender:  sender,
		bus:     bus,
		logger:  util.ComponentLogger("master"),
	}
}

// Handle decodes and processes one inbound datagram received from endpoint from.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte, from string) {
	dg, err := protocol.Decode(payload)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnknownCommand):
			d.logger.Warn().Err(err).Str("from", from).Msg("unrecognized command")
		default:
			d.logger.Warn().Err(err).Str("from", from).Msg("dropping malformed datagram")
		}
		return
	}

	if d.pending.IsDuplicate(dg.Command, dg.Args) {
		if dg.Command == protocol.CmdPlayerJoin {
			// The confirmation is relayed to the latest endpoint.
			d.touchPlayerEndpoint(dg.Fields[0], from)
		}
		d.logger.Debug().
			Str("command", dg.Command).
			Str("args", dg.Args).
			Str("from", from).
			Msg("dropping duplicate of pending request")
		return
	}

	d.logger.Trace().Str("datagram", dg.String()).Str("from", from).Msg("received")

	switch dg.Command {
	case protocol.CmdRegisterServer:
		d.handleRegisterServer(ctx, dg, from)
	case protocol.CmdStartLobby:
		d.handleStartLobby(ctx, dg, from)
	case protocol.AckStartLobby:
		d.handleStartLobbyAck(ctx, dg, from)
	case protocol.CmdCloseLobby:
		d.handleCloseLobby(ctx, dg, from)
	case protocol.CmdLobbyUpdate:
		d.logger.Debug().Str("args", dg.Args).Str("from", from).Msg("lobby update touch")
	case protocol.CmdServerList:
		d.handleServerList(dg, from)
	case protocol.CmdLobbyList:
		d.handleLobbyList(dg, from)
	case protocol.CmdPlayerJoin:
		d.handlePlayerJoin(dg, from)
	case protocol.AckPlayerJoin:
		d.handlePlayerJoinAck(ctx, dg, from)
	case protocol.CmdPlayerQuit:
		d.handlePlayerQuit(ctx, dg, from)
	case protocol.CmdPlayerInvite:
		d.handlePlayerInvite(ctx, dg, from)
	case protocol.AckPlayerInvite:
		d.handlePlayerInviteAck(ctx, dg, from)
	case protocol.CmdClear:
		d.Clear(ctx)
	}
}

// Sweep retransmits or abandons aged pending requests.
func (d *Dispatcher) Sweep(ctx context.Context) ledger.SweepResult {
	result := d.pending.Sweep(func(p ledger.PendingRequest) error {
		return d.send(p.Message, p.Destination)
	})

	for _, p := range result.Resent {
		d.logger.Debug().
			Uint64("id", p.ID).
			Str("command", p.Command).
			Str("args", p.Args).
			Str("to", p.Destination).
			Int("attempt", p.Attempts).
			Msg("retransmit")
	}

	for _, p := range result.Abandoned {
		d.logger.Warn().
			Uint64("id", p.ID).
			Str("command", p.Command).
			Str("args", p.Args).
			Str("destination", p.Destination).
			Msg("handshake abandoned")

		if p.Command == protocol.CmdStartLobby {
			d.releaseHost(p)
		}

		d.emit(ctx, events.EventHandshakeAbandoned, events.HandshakePayload{
			ID:          p.ID,
			Command:     p.Command,
			Args:        p.Args,
			Origin:      p.Origin,
			Destination: p.Destination,
			Attempts:    p.Attempts,
		})
	}

	return result
}

// touchPlayerEndpoint updates a known player's endpoint.
func (d *Dispatcher) touchPlayerEndpoint(id, from string) {
	if _, ok := d.reg.Player(id); ok {
		d.reg.RecordPlayerEndpoint(id, from)
	}
}

// releaseHost returns the host of an unconfirmed allocation to its region's
// idle pool. A slack arriving after this finds no pending entry and is dropped.
func (d *Dispatcher) releaseHost(p ledger.PendingRequest) {
	region, _, ok := registry.SplitLobbyKey(p.Args)
	if !ok {
		return
	}
	if d.reg.RegisterHost(region, p.Destination) {
		d.logger.Info().Str("region", region).Str("host", p.Destination).Msg("returning host to idle pool")
	}
}

// Clear wipes the registry and the ledger.
func (d *Dispatcher) Clear(ctx context.Context) {
	d.reg.Clear()
	d.pending.Clear()
	d.logger.Info().Msg("registry and ledger cleared")
	d.emit(ctx, events.EventRegistryCleared, nil)
}

// CloseLobby closes a lobby by its region:lobby key, with the same cascade
// as the close command. It returns the evicted roster.
func (d *Dispatcher) CloseLobby(ctx context.Context, key string) ([]string, error) {
	region, lobby, ok := registry.SplitLobbyKey(key)
	if !ok {
		return nil, fmt.Errorf("close %q: %w", key, protocol.ErrMalformed)
	}
	lob, found := d.reg.Lobby(key)
	if !found {
		return nil, fmt.Errorf("close %s: %w", key, registry.ErrUnknownLobby)
	}
	host := lob.Host

	evicted, err := d.reg.CloseLobby(region, lobby)
	if err != nil {
		return nil, err
	}

	d.logger.Info().Str("lobby", key).Strs("evicted", evicted).Msg("lobby closed")
	d.emit(ctx, events.EventLobbyClosed, events.LobbyPayload{
		Region:  region,
		Lobby:   lobby,
		Host:    host,
		Evicted: evicted,
	})
	return evicted, nil
}

// Version changes whenever registry or ledger state changes.
func (d *Dispatcher) Version() uint64 {
	return d.reg.Version() + d.pending.Version()
}

// Snapshot copies registry and ledger state.
func (d *Dispatcher) Snapshot() Snapshot {
	return Snapshot{
		Snapshot: d.reg.Snapshot(),
		Pending:  d.pending.Entries(),
		TakenAt:  time.Now(),
	}
}

// send never fails the caller; errors are logged and the sweeper retries
// anything that was pending.
func (d *Dispatcher) send(payload []byte, to string) error {
	if err := d.sender.Send(payload, to); err != nil {
		d.logger.Warn().Err(err).Str("to", to).Msg("send failed")
		return err
	}
	return nil
}

func (d *Dispatcher) reply(payload []byte, to string) {
	_ = d.send(payload, to)
}

func (d *Dispatcher) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Emit(ctx, events.Event{
		Type:    t,
		Source:  "master",
		Payload: payload,
	})
}

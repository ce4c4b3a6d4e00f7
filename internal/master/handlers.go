package master

import (
	"context"
	"errors"

	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/ledger"
	"github.com/energizer-project/lobbymaster/internal/protocol"
	"github.com/energizer-project/lobbymaster/internal/registry"
)

// stser region
func (d *Dispatcher) handleRegisterServer(ctx context.Context, dg protocol.Datagram, from string) {
	region := dg.Fields[0]
	if region == "" {
		d.logger.Warn().Str("from", from).Msg("stser without region")
		return
	}

	if d.reg.RegisterHost(region, from) {
		d.logger.Info().Str("region", region).Str("host", from).Msg("host registered")
		d.emit(ctx, events.EventHostRegistered, events.HostPayload{Region: region, Endpoint: from})
	}
	d.reply(protocol.Build(protocol.AckRegisterServer, region), from)
}

// stlob region:lobby
func (d *Dispatcher) handleStartLobby(ctx context.Context, dg protocol.Datagram, from string) {
	region, lobby := dg.Fields[0], dg.Fields[1]
	if region == "" || lobby == "" || !d.reg.HasRegion(region) {
		d.logger.Warn().Str("args", dg.Args).Str("from", from).Msg("stlob precondition failed")
		d.reply(protocol.BuildRaw(protocol.ErrStartLobby, dg.Args), from)
		return
	}

	key := registry.LobbyKey(region, lobby)
	if _, ok := d.reg.Lobby(key); ok {
		d.reply(protocol.BuildRaw(protocol.AckStartLobby, key), from)
		return
	}

	host, ok := d.reg.AllocateHost(region)
	if !ok {
		d.logger.Warn().Str("region", region).Str("lobby", lobby).Msg("no idle host available")
		return
	}

	msg := protocol.BuildRaw(protocol.CmdStartLobby, dg.Args)
	entry, _ := d.pending.Add(ledger.PendingRequest{
		Command:     protocol.CmdStartLobby,
		Args:        dg.Args,
		Message:     msg,
		Origin:      from,
		Destination: host,
	})

	d.logger.Info().
		Uint64("id", entry.ID).
		Str("lobby", key).
		Str("host", host).
		Str("client", from).
		Msg("forwarding lobby allocation")
	d.reply(msg, host)
}

// slack region:lobby, the host's allocation confirmation
func (d *Dispatcher) handleStartLobbyAck(ctx context.Context, dg protocol.Datagram, from string) {
	entry, ok := d.pending.FindAndRemove(protocol.CmdStartLobby, dg.Args)
	if !ok {
		d.logger.Debug().Str("args", dg.Args).Str("from", from).Msg("slack without pending allocation")
		return
	}

	region, lobby := dg.Fields[0], dg.Fields[1]
	if from != entry.Destination {
		d.logger.Warn().
			Str("expected", entry.Destination).
			Str("from", from).
			Str("args", dg.Args).
			Msg("allocation confirmed from unexpected endpoint")
	}

	if _, err := d.reg.BindLobby(region, lobby, entry.Destination); err != nil {
		if !errors.Is(err, registry.ErrLobbyExists) {
			d.logger.Error().Err(err).Msg("bind lobby failed")
			return
		}
		// Lost a race with another allocation; the host stays usable.
		d.reg.RegisterHost(region, entry.Destination)
		d.logger.Warn().Err(err).Str("host", entry.Destination).Msg("returning host to idle pool")
	} else {
		d.logger.Info().
			Uint64("id", entry.ID).
			Str("lobby", dg.Args).
			Str("host", entry.Destination).
			Msg("lobby created")
		d.emit(ctx, events.EventLobbyCreated, events.LobbyPayload{
			Region: region,
			Lobby:  lobby,
			Host:   entry.Destination,
		})
	}

	d.reply(protocol.BuildRaw(protocol.AckStartLobby, dg.Args), entry.Origin)
}

// close region:lobby
func (d *Dispatcher) handleCloseLobby(ctx context.Context, dg protocol.Datagram, from string) {
	if dg.Fields[0] == "" || dg.Fields[1] == "" {
		d.logger.Warn().Str("args", dg.Args).Str("from", from).Msg("close without lobby key")
		return
	}

	if _, err := d.CloseLobby(ctx, dg.Args); err != nil {
		d.logger.Debug().Err(err).Msg("close of unknown lobby")
	}
	d.reply(protocol.BuildRaw(protocol.AckCloseLobby, dg.Args), from)
}

// pslis [playerId]
func (d *Dispatcher) handleServerList(dg protocol.Datagram, from string) {
	var id string
	if len(dg.Fields) > 0 {
		id = dg.Fields[0]
	}
	if id == "" {
		d.reply(protocol.Build(protocol.ErrServerList), from)
		return
	}

	d.reg.RecordPlayerEndpoint(id, from)
	d.reply(protocol.BuildList(protocol.AckServerList, d.reg.RegionNames()), from)
}

// pllis region
func (d *Dispatcher) handleLobbyList(dg protocol.Datagram, from string) {
	names, err := d.reg.LobbyNames(dg.Fields[0])
	if err != nil {
		d.logger.Debug().Err(err).Str("from", from).Msg("lobby list dropped")
		return
	}
	d.reply(protocol.BuildList(protocol.AckLobbyList, names), from)
}

// pjoin playerId:region:lobby
func (d *Dispatcher) handlePlayerJoin(dg protocol.Datagram, from string) {
	id, region, lobby := dg.Fields[0], dg.Fields[1], dg.Fields[2]

	player, ok := d.reg.Player(id)
	if !ok {
		d.logger.Warn().Str("player", id).Msg("join from unknown player")
		return
	}
	if !d.reg.HasRegion(region) {
		d.logger.Warn().Str("region", region).Msg("join to unknown region")
		return
	}
	key := registry.LobbyKey(region, lobby)
	lob, ok := d.reg.Lobby(key)
	if !ok {
		d.logger.Warn().Str("lobby", key).Msg("join to unknown lobby")
		return
	}

	if player.Lobby == key {
		d.reply(protocol.Build(protocol.AckPlayerJoin, id, lob.Host), from)
		return
	}

	d.reg.RecordPlayerEndpoint(id, from)
	msg := protocol.Build(protocol.CmdPlayerJoin, id, from, region, lobby)
	entry, added := d.pending.Add(ledger.PendingRequest{
		Command:     protocol.CmdPlayerJoin,
		Args:        dg.Args,
		Message:     msg,
		Origin:      from,
		Destination: lob.Host,
	})
	if !added {
		return
	}

	d.logger.Info().
		Uint64("id", entry.ID).
		Str("player", id).
		Str("lobby", key).
		Str("host", lob.Host).
		Msg("forwarding join request")
	d.reply(msg, lob.Host)
}

// pjack playerId:playerEndpoint:region:lobby, the host's join confirmation
func (d *Dispatcher) handlePlayerJoinAck(ctx context.Context, dg protocol.Datagram, from string) {
	id, _, region, lobby, err := protocol.JoinConfirmation(dg.Fields)
	if err != nil {
		d.logger.Warn().Err(err).Str("from", from).Msg("dropping join confirmation")
		return
	}

	key := registry.LobbyKey(region, lobby)
	lob, ok := d.reg.Lobby(key)
	if !ok {
		d.logger.Warn().Str("lobby", key).Msg("join confirmation for unknown lobby")
		return
	}
	player, ok := d.reg.Player(id)
	if !ok {
		d.logger.Warn().Str("player", id).Msg("join confirmation for unknown player")
		return
	}

	if player.Lobby != key {
		entry, matched := d.pending.FindAndRemove(protocol.CmdPlayerJoin, protocol.JoinFields(id, region, lobby))
		if matched {
			if err := d.reg.AddPlayerToLobby(key, id); err != nil {
				d.logger.Error().Err(err).Msg("add player to lobby failed")
				return
			}
			d.logger.Info().Uint64("id", entry.ID).Str("player", id).Str("lobby", key).Msg("player joined")
			d.emit(ctx, events.EventPlayerJoined, events.PlayerPayload{
				PlayerID: id,
				Endpoint: player.Endpoint,
				Lobby:    key,
			})
		} else {
			d.logger.Debug().Str("player", id).Str("lobby", key).Msg("join confirmation without pending request")
		}
	}

	d.reply(protocol.Build(protocol.AckPlayerJoin, id, lob.Host), player.Endpoint)
}

// pquit playerId
func (d *Dispatcher) handlePlayerQuit(ctx context.Context, dg protocol.Datagram, from string) {
	id := dg.Fields[0]
	if left := d.reg.RemovePlayerFromLobby(id); left != "" {
		d.logger.Info().Str("player", id).Str("lobby", left).Msg("player quit")
		d.emit(ctx, events.EventPlayerQuit, events.PlayerPayload{PlayerID: id, Endpoint: from, Lobby: left})
	}
	d.reply(protocol.Build(protocol.AckPlayerQuit, id), from)
}

// pinvi fromId:toId
func (d *Dispatcher) handlePlayerInvite(ctx context.Context, dg protocol.Datagram, from string) {
	fromID, toID := dg.Fields[0], dg.Fields[1]
	inviter, invitee, ok := d.playerPair(fromID, toID)
	if !ok {
		return
	}
	if inviter.Lobby == "" {
		d.logger.Warn().Str("player", fromID).Msg("invite from player outside a lobby")
		return
	}

	if inviter.Lobby == invitee.Lobby {
		d.reply(protocol.Build(protocol.AckPlayerInvite, fromID, toID), from)
		return
	}

	args := protocol.JoinFields(fromID, toID, inviter.Lobby)
	msg := protocol.BuildRaw(protocol.CmdPlayerInvite, args)
	entry, added := d.pending.Add(ledger.PendingRequest{
		Command:     protocol.CmdPlayerInvite,
		Args:        args,
		Message:     msg,
		Origin:      from,
		Destination: invitee.Endpoint,
	})
	if !added {
		return
	}

	d.logger.Info().
		Uint64("id", entry.ID).
		Str("from", fromID).
		Str("to", toID).
		Str("lobby", inviter.Lobby).
		Msg("relaying invite")
	d.emit(ctx, events.EventInviteRelayed, events.InvitePayload{From: fromID, To: toID, Lobby: inviter.Lobby})
	d.reply(msg, invitee.Endpoint)
}

// piack fromId:toId:region:lobby
func (d *Dispatcher) handlePlayerInviteAck(ctx context.Context, dg protocol.Datagram, from string) {
	fromID, toID := dg.Fields[0], dg.Fields[1]
	inviter, invitee, ok := d.playerPair(fromID, toID)
	if !ok {
		return
	}

	key := registry.LobbyKey(dg.Fields[2], dg.Fields[3])
	if inviter.Lobby != key || invitee.Lobby != key {
		if _, matched := d.pending.FindAndRemove(protocol.CmdPlayerInvite, dg.Args); matched {
			d.logger.Info().Str("from", fromID).Str("to", toID).Str("lobby", key).Msg("invite accepted")
			d.emit(ctx, events.EventInviteAccepted, events.InvitePayload{From: fromID, To: toID, Lobby: key})
		}
	}

	d.reply(protocol.Build(protocol.AckPlayerInvite, fromID, toID), inviter.Endpoint)
}

func (d *Dispatcher) playerPair(fromID, toID string) (inviter, invitee *registry.Player, ok bool) {
	inviter, ok = d.reg.Player(fromID)
	if !ok {
		d.logger.Warn().Str("player", fromID).Msg("unknown inviter")
		return nil, nil, false
	}
	invitee, ok = d.reg.Player(toID)
	if !ok {
		d.logger.Warn().Str("player", toID).Msg("unknown invitee")
		return nil, nil, false
	}
	return inviter, invitee, true
}

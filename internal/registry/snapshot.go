package registry

import (
	"slices"
	"sort"
)

// Snapshot is a deep, read-only copy of the registry for consumers outside
// the transport loop (HTTP API, console).
type Snapshot struct {
	Regions []RegionView `json:"regions"`
	Lobbies []LobbyView  `json:"lobbies"`
	Players []PlayerView `json:"players"`
}

// RegionView is the exported form of a Region.
type RegionView struct {
	Name      string   `json:"name"`
	Lobbies   []string `json:"lobbies"`
	IdleHosts []string `json:"idle_hosts"`
}

// LobbyView is the exported form of a Lobby.
type LobbyView struct {
	Key    string   `json:"key"`
	Region string   `json:"region"`
	Name   string   `json:"name"`
	Host   string   `json:"host"`
	Roster []string `json:"roster"`
}

// PlayerView is the exported form of a Player.
type PlayerView struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Lobby    string `json:"lobby,omitempty"`
}

// Snapshot copies all tables, sorted by key.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Regions: make([]RegionView, 0, len(r.regions)),
		Lobbies: make([]LobbyView, 0, len(r.lobbies)),
		Players: make([]PlayerView, 0, len(r.players)),
	}

	for _, name := range r.RegionNames() {
		reg := r.regions[name]
		snap.Regions = append(snap.Regions, RegionView{
			Name:      reg.Name,
			Lobbies:   slices.Clone(reg.Lobbies),
			IdleHosts: slices.Clone(reg.IdleHosts),
		})
	}

	for key, lob := range r.lobbies {
		snap.Lobbies = append(snap.Lobbies, LobbyView{
			Key:    key,
			Region: lob.Region,
			Name:   lob.Name,
			Host:   lob.Host,
			Roster: slices.Clone(lob.Roster),
		})
	}
	sort.Slice(snap.Lobbies, func(i, j int) bool { return snap.Lobbies[i].Key < snap.Lobbies[j].Key })

	for _, p := range r.players {
		snap.Players = append(snap.Players, PlayerView{ID: p.ID, Endpoint: p.Endpoint, Lobby: p.Lobby})
	}
	sort.Slice(snap.Players, func(i, j int) bool { return snap.Players[i].ID < snap.Players[j].ID })

	return snap
}

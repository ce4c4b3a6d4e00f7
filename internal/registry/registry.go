// Package registry holds the authoritative in-memory matchmaking state:
// regions, idle host pools, bound lobbies, player rosters and player
// locations. It performs no I/O. A Registry is owned by a single goroutine
// (the transport loop) and is not safe for concurrent use.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	// ErrLobbyExists is returned by BindLobby when the region:lobby key is already bound.
	ErrLobbyExists = errors.New("lobby already bound")
	// ErrUnknownRegion is returned when an operation names a region that was never registered.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrUnknownLobby is returned when a region:lobby key has no bound lobby.
	ErrUnknownLobby = errors.New("unknown lobby")
	// ErrUnknownPlayer is returned when a player ID has no recorded session.
	ErrUnknownPlayer = errors.New("unknown player")
)

// Region is a named pool of game-server capacity.
type Region struct {
	Name      string
	Lobbies   []string // active lobby names, creation order
	IdleHosts []string // endpoints with no lobby yet
}

// Lobby is a running game instance bound to one host endpoint.
type Lobby struct {
	Region   string
	Name     string
	Host     string
	Roster   []string
	Metadata []string
}

// Key returns the composite region:lobby key.
func (l *Lobby) Key() string {
	return LobbyKey(l.Region, l.Name)
}

// Player is a player's last-known endpoint and current lobby.
type Player struct {
	ID       string
	Endpoint string
	Lobby    string // region:lobby, empty when not in a lobby
}

// Registry is the single owned matchmaking state object.
type Registry struct {
	regions map[string]*Region
	lobbies map[string]*Lobby // region:lobby -> lobby (the host binding table)
	players map[string]*Player

	version uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		regions: make(map[string]*Region),
		lobbies: make(map[string]*Lobby),
		players: make(map[string]*Player),
	}
}

// LobbyKey joins a region and lobby name into the composite region:lobby key.
func LobbyKey(region, lobby string) string {
	return region + ":" + lobby
}

// SplitLobbyKey splits a region:lobby key. ok is false when either half is empty.
func SplitLobbyKey(key string) (region, lobby string, ok bool) {
	region, lobby, found := strings.Cut(key, ":")
	if !found || region == "" || lobby == "" {
		return "", "", false
	}
	return region, lobby, true
}

// Version returns a counter that increases on every mutation.
func (r *Registry) Version() uint64 {
	return r.version
}

func (r *Registry) touch() {
	r.version++
}

// RegisterHost adds endpoint to the region's idle pool, creating the region
// if needed. It is a no-op when the endpoint is already idle or already bound
// to a lobby in that region. The returned bool reports whether the pool changed.
func (r *Registry) RegisterHost(region, endpoint string) bool {
	reg, ok := r.regions[region]
	if !ok {
		reg = &Region{Name: region}
		r.regions[region] = reg
		r.touch()
	}

	if slices.Contains(reg.IdleHosts, endpoint) {
		return false
	}
	for _, name := range reg.Lobbies {
		if lob := r.lobbies[LobbyKey(region, name)]; lob != nil && lob.Host == endpoint {
			return false
		}
	}

	reg.IdleHosts = append(reg.IdleHosts, endpoint)
	r.touch()
	return true
}

// AllocateHost removes and returns one idle endpoint from the region's pool.
// ok is false when the region is unknown or the pool is empty.
func (r *Registry) AllocateHost(region string) (endpoint string, ok bool) {
	reg, exists := r.regions[region]
	if !exists || len(reg.IdleHosts) == 0 {
		return "", false
	}

	last := len(reg.IdleHosts) - 1
	endpoint = reg.IdleHosts[last]
	reg.IdleHosts = reg.IdleHosts[:last]
	r.touch()
	return endpoint, true
}

// BindLobby creates a durable lobby bound to host with an empty roster.
func (r *Registry) BindLobby(region, lobby, host string) (*Lobby, error) {
	key := LobbyKey(region, lobby)
	if _, exists := r.lobbies[key]; exists {
		return nil, fmt.Errorf("bind %s: %w", key, ErrLobbyExists)
	}
	reg, ok := r.regions[region]
	if !ok {
		// Region was deleted while the allocation handshake was in flight.
		reg = &Region{Name: region}
		r.regions[region] = reg
	}

	// An endpoint is never idle and bound at the same time.
	reg.IdleHosts = slices.DeleteFunc(reg.IdleHosts, func(ep string) bool { return ep == host })

	lob := &Lobby{
		Region:   region,
		Name:     lobby,
		Host:     host,
		Roster:   []string{},
		Metadata: []string{},
	}
	r.lobbies[key] = lob
	reg.Lobbies = append(reg.Lobbies, lobby)
	r.touch()
	return lob, nil
}

// CloseLobby removes a lobby, its host binding and its roster together, and
// clears the current lobby of every evicted player. The region is deleted
// once it has neither lobbies nor idle hosts. It returns the evicted roster.
func (r *Registry) CloseLobby(region, lobby string) ([]string, error) {
	key := LobbyKey(region, lobby)
	lob, ok := r.lobbies[key]
	if !ok {
		return nil, fmt.Errorf("close %s: %w", key, ErrUnknownLobby)
	}

	for _, id := range lob.Roster {
		if p := r.players[id]; p != nil && p.Lobby == key {
			p.Lobby = ""
		}
	}
	delete(r.lobbies, key)

	if reg, exists := r.regions[region]; exists {
		reg.Lobbies = slices.DeleteFunc(reg.Lobbies, func(name string) bool { return name == lobby })
		if len(reg.Lobbies) == 0 && len(reg.IdleHosts) == 0 {
			delete(r.regions, region)
		}
	}

	r.touch()
	return lob.Roster, nil
}

// AddPlayerToLobby puts a known player on the roster of a bound lobby. A
// player already in another lobby is removed from that roster first.
func (r *Registry) AddPlayerToLobby(key, playerID string) error {
	lob, ok := r.lobbies[key]
	if !ok {
		return fmt.Errorf("join %s: %w", key, ErrUnknownLobby)
	}
	p, ok := r.players[playerID]
	if !ok {
		return fmt.Errorf("join %s: %w", playerID, ErrUnknownPlayer)
	}
	if p.Lobby == key {
		return nil
	}
	if p.Lobby != "" {
		r.RemovePlayerFromLobby(playerID)
	}

	lob.Roster = append(lob.Roster, playerID)
	p.Lobby = key
	r.touch()
	return nil
}

// RemovePlayerFromLobby takes a player off the roster recorded in its current
// lobby and clears that attribute. It returns the lobby key the player left,
// or "" when the player was not in a lobby.
func (r *Registry) RemovePlayerFromLobby(playerID string) string {
	p, ok := r.players[playerID]
	if !ok || p.Lobby == "" {
		return ""
	}

	key := p.Lobby
	if lob := r.lobbies[key]; lob != nil {
		lob.Roster = slices.DeleteFunc(lob.Roster, func(id string) bool { return id == playerID })
	}
	p.Lobby = ""
	r.touch()
	return key
}

// RecordPlayerEndpoint overwrites the player's last-known endpoint, creating
// the session on first sight.
func (r *Registry) RecordPlayerEndpoint(playerID, endpoint string) {
	p, ok := r.players[playerID]
	if !ok {
		r.players[playerID] = &Player{ID: playerID, Endpoint: endpoint}
		r.touch()
		return
	}
	if p.Endpoint != endpoint {
		p.Endpoint = endpoint
		r.touch()
	}
}

// HasRegion reports whether region is known.
func (r *Registry) HasRegion(region string) bool {
	_, ok := r.regions[region]
	return ok
}

// Lobby returns the bound lobby for a region:lobby key.
func (r *Registry) Lobby(key string) (*Lobby, bool) {
	lob, ok := r.lobbies[key]
	return lob, ok
}

// Player returns the session recorded for a player ID.
func (r *Registry) Player(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// RegionNames returns all region names sorted.
func (r *Registry) RegionNames() []string {
	names := make([]string, 0, len(r.regions))
	for name := range r.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LobbyNames returns the active lobby names of a region in creation order.
func (r *Registry) LobbyNames(region string) ([]string, error) {
	reg, ok := r.regions[region]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", region, ErrUnknownRegion)
	}
	return slices.Clone(reg.Lobbies), nil
}

// Clear wipes every table.
func (r *Registry) Clear() {
	clear(r.regions)
	clear(r.lobbies)
	clear(r.players)
	r.touch()
}

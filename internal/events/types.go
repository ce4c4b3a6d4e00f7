// Package events carries matchmaking notifications from the master loop to
// side consumers (MQTT telemetry, the sqlite journal). Consumers never touch
// registry state; they only receive copies in event payloads.
package events

import "time"

// EventType names a kind of event published on the EventBus.
type EventType string

const (
	EventHostRegistered     EventType = "host_registered"
	EventLobbyCreated       EventType = "lobby_created"
	EventLobbyClosed        EventType = "lobby_closed"
	EventPlayerJoined       EventType = "player_joined"
	EventPlayerQuit         EventType = "player_quit"
	EventInviteRelayed      EventType = "invite_relayed"
	EventInviteAccepted     EventType = "invite_accepted"
	EventHandshakeAbandoned EventType = "handshake_abandoned"
	EventRegistryCleared    EventType = "registry_cleared"
	EventShutdown           EventType = "shutdown"
)

// AllTypes lists every event type, for subscribers that record everything.
var AllTypes = []EventType{
	EventHostRegistered,
	EventLobbyCreated,
	EventLobbyClosed,
	EventPlayerJoined,
	EventPlayerQuit,
	EventInviteRelayed,
	EventInviteAccepted,
	EventHandshakeAbandoned,
	EventRegistryCleared,
}

// Event is a single notification.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}

	// Seq is stamped by Emit and increases with every emitted event.
	Seq uint64
}

// HostPayload accompanies EventHostRegistered.
type HostPayload struct {
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
}

// LobbyPayload accompanies EventLobbyCreated and EventLobbyClosed.
type LobbyPayload struct {
	Region  string   `json:"region"`
	Lobby   string   `json:"lobby"`
	Host    string   `json:"host"`
	Evicted []string `json:"evicted,omitempty"`
}

// PlayerPayload accompanies EventPlayerJoined and EventPlayerQuit.
type PlayerPayload struct {
	PlayerID string `json:"player_id"`
	Endpoint string `json:"endpoint,omitempty"`
	Lobby    string `json:"lobby"`
}

// InvitePayload accompanies EventInviteRelayed and EventInviteAccepted.
type InvitePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Lobby string `json:"lobby"`
}

// HandshakePayload accompanies EventHandshakeAbandoned.
type HandshakePayload struct {
	ID          uint64 `json:"id"`
	Command     string `json:"command"`
	Args        string `json:"args"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Attempts    int    `json:"attempts"`
}

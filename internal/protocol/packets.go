// Package protocol implements the text datagram format spoken between the
// lobby master, lobby hosts and player clients. Every datagram is ASCII: a
// fixed 5-character command code, one space, then colon-joined argument
// fields. Fields cannot contain ':' as data.
package protocol

// Command codes sent to the master.
const (
	CmdRegisterServer = "stser" // host: register idle capacity in a region
	CmdStartLobby     = "stlob" // client: allocate a lobby (also forwarded to the host)
	CmdCloseLobby     = "close" // close a lobby
	CmdLobbyUpdate    = "lobup" // legacy bulk roster push, accepted as a touch only
	CmdServerList     = "pslis" // player: log in and list regions
	CmdLobbyList      = "pllis" // player: list lobbies in a region
	CmdPlayerJoin     = "pjoin" // player: join (also forwarded to the host)
	CmdPlayerQuit     = "pquit" // player: leave current lobby
	CmdPlayerInvite   = "pinvi" // player: invite (also relayed to the invitee)
	CmdClear          = "clear" // operator: wipe all state
)

// Acknowledgment and confirmation codes.
const (
	AckRegisterServer = "ssack"
	AckStartLobby     = "slack" // host confirmation and client success ack
	ErrStartLobby     = "slerr"
	AckCloseLobby     = "clack"
	AckServerList     = "psack"
	ErrServerList     = "pserr"
	AckLobbyList      = "plack"
	AckPlayerJoin     = "pjack" // host confirmation and player ack
	AckPlayerQuit     = "pqack"
	AckPlayerInvite   = "piack" // invitee confirmation and inviter ack
)

// CommandLength is the fixed width of every command code.
const CommandLength = 5

// MaxDatagramSize bounds a single datagram (the receive buffer size).
const MaxDatagramSize = 1024

// FieldSeparator joins argument fields.
const FieldSeparator = ":"

// Arity bounds the number of argument fields a command accepts.
// Max < 0 means unbounded.
type Arity struct {
	Min int
	Max int
}

// Accepts reports whether n fields satisfy the bound.
func (a Arity) Accepts(n int) bool {
	if n < a.Min {
		return false
	}
	return a.Max < 0 || n <= a.Max
}

// arities lists every command the master dispatches. Confirmations that the
// master receives (slack, pjack, piack) are included.
var arities = map[string]Arity{
	CmdRegisterServer: {Min: 1, Max: 1},  // region
	CmdStartLobby:     {Min: 2, Max: 2},  // region:lobby
	AckStartLobby:     {Min: 2, Max: 2},  // region:lobby
	CmdCloseLobby:     {Min: 2, Max: 2},  // region:lobby
	CmdLobbyUpdate:    {Min: 2, Max: -1}, // region:lobby[:player...]
	CmdServerList:     {Min: 0, Max: 1},  // playerId (missing -> pserr)
	CmdLobbyList:      {Min: 1, Max: 1},  // region
	CmdPlayerJoin:     {Min: 3, Max: 3},  // playerId:region:lobby
	AckPlayerJoin:     {Min: 4, Max: -1}, // playerId:endpoint...:region:lobby
	CmdPlayerQuit:     {Min: 1, Max: 1},  // playerId
	CmdPlayerInvite:   {Min: 2, Max: 2},  // fromId:toId
	AckPlayerInvite:   {Min: 4, Max: 4},  // fromId:toId:region:lobby
	CmdClear:          {Min: 0, Max: -1},
}

// ArityOf returns the arity for a known command.
func ArityOf(command string) (Arity, bool) {
	a, ok := arities[command]
	return a, ok
}

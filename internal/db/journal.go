package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbymaster/internal/events"
)

// Journal records coordinator events for later inspection.
type Journal struct {
	db        *Database
	sessionID string
}

// JournalEntry is one recorded event.
type JournalEntry struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Lobby     string          `json:"lobby,omitempty"`
	Player    string          `json:"player,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJournal opens the journal database and creates its schema. Every row
// written through it carries sessionID.
func NewJournal(dbPath, sessionID string) (*Journal, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database, sessionID: sessionID}
	if err := j.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			lobby TEXT NOT NULL DEFAULT '',
			player TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session_id);
		CREATE INDEX IF NOT EXISTS idx_journal_lobby ON journal(lobby);
	`
	ctx := context.Background()
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return err
	}

	// Databases created before rows carried a sequence number.
	var hasSeq int
	if err := j.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('journal') WHERE name = 'seq'`).Scan(&hasSeq); err != nil {
		return err
	}
	if hasSeq == 0 {
		if _, err := j.db.Exec(ctx, `ALTER TABLE journal ADD COLUMN seq INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}
	_, err := j.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_journal_order ON journal(created_at, seq)`)
	return err
}

// SessionID returns the session stamped on new rows.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event.Type, err)
	}
	lobby, player := eventSubjects(event.Payload)

	when := event.Time
	if when.IsZero() {
		when = time.Now()
	}

	_, err = j.db.Exec(ctx,
		`INSERT INTO journal (session_id, event_type, lobby, player, payload, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.sessionID, string(event.Type), lobby, player, string(payload), int64(event.Seq), when.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", event.Type, err)
	}
	return nil
}

// Rows are inserted by concurrent bus handlers, so id order is not event
// order. Emission time and the bus sequence number are.
const selectEntries = `SELECT id, session_id, event_type, lobby, player, payload, seq, created_at FROM journal`

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	return j.query(ctx,
		selectEntries+` ORDER BY created_at DESC, seq DESC, id DESC LIMIT ?`, limit)
}

// ForLobby returns the entries about one region:lobby key, oldest first.
func (j *Journal) ForLobby(ctx context.Context, key string) ([]JournalEntry, error) {
	return j.query(ctx,
		selectEntries+` WHERE lobby = ? ORDER BY created_at, seq, id`, key)
}

// CountByType aggregates the rows written in this session.
func (j *Journal) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.Query(ctx,
		`SELECT event_type, COUNT(*) FROM journal WHERE session_id = ? GROUP BY event_type`, j.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (j *Journal) query(ctx context.Context, query string, args ...interface{}) ([]JournalEntry, error) {
	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var payload string
		var seq, created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Lobby, &e.Player, &payload, &seq, &created); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.Seq = uint64(seq)
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Subscribe records every event published on bus. Writes outlive the
// emitter's context so the events leading up to shutdown are kept.
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll("journal", func(ctx context.Context, event events.Event) error {
		return j.Record(context.WithoutCancel(ctx), event)
	})
	log.Info().Str("session", j.sessionID).Msg("journal subscribed to events")
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func eventSubjects(payload interface{}) (lobby, player string) {
	switch p := payload.(type) {
	case events.LobbyPayload:
		return p.Region + ":" + p.Lobby, ""
	case events.PlayerPayload:
		return p.Lobby, p.PlayerID
	case events.InvitePayload:
		return p.Lobby, p.From
	}
	return "", ""
}

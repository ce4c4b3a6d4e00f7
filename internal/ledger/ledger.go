// Package ledger tracks forwarded handshake steps that still await a
// confirmation from a second party, and retransmits or abandons them by age.
//
// Confirmations are matched by exact equality of the forwarded command name
// and argument string. Every entry also carries a monotonically increasing
// correlation ID for logging and inspection; it never appears on the wire,
// since lobby hosts echo the argument string byte-for-byte.
package ledger

import (
	"time"
)

const (
	// DefaultTimeout is the age after which an unconfirmed entry is resent.
	DefaultTimeout = 250 * time.Millisecond
	// DefaultRetryBudget is the number of retransmissions before abandonment.
	DefaultRetryBudget = 3
)

// PendingRequest is an outbound message awaiting a specific confirmation.
type PendingRequest struct {
	ID          uint64    `json:"id"`
	Command     string    `json:"command"`
	Args        string    `json:"args"`   // match key
	Message     []byte    `json:"-"`      // exact datagram forwarded and resent
	Origin      string    `json:"origin"` // endpoint the final ack is relayed to
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      time.Time `json:"sent_at"`
	Attempts    int       `json:"attempts"` // retransmissions so far
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Resent    []PendingRequest
	Abandoned []PendingRequest
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTimeout sets the retransmission timeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.timeout = d }
}

// WithRetryBudget sets how many retransmissions happen before an entry is dropped.
func WithRetryBudget(n int) Option {
	return func(l *Ledger) { l.retryBudget = n }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is an ordered collection of PendingRequest entries. Linear scans are
// fine at the expected scale. Not safe for concurrent use.
type Ledger struct {
	entries     []*PendingRequest
	nextID      uint64
	timeout     time.Duration
	retryBudget int
	now         func() time.Time
	version     uint64
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		timeout:     DefaultTimeout,
		retryBudget: DefaultRetryBudget,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Timeout returns the configured retransmission timeout.
func (l *Ledger) Timeout() time.Duration { return l.timeout }

// RetryBudget returns the configured retry budget.
func (l *Ledger) RetryBudget() int { return l.retryBudget }

// Version returns a counter that increases on every mutation.
func (l *Ledger) Version() uint64 { return l.version }

// Len returns the number of pending entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Add appends entry stamped with the current time and a fresh ID. When an
// entry with the same command and args is already pending, that entry is
// returned unchanged and added is false.
func (l *Ledger) Add(entry PendingRequest) (pending PendingRequest, added bool) {
	if existing := l.find(entry.Command, entry.Args); existing >= 0 {
		return *l.entries[existing], false
	}

	now := l.now()
	l.nextID++
	entry.ID = l.nextID
	entry.CreatedAt = now
	entry.SentAt = now
	entry.Attempts = 0

	l.entries = append(l.entries, &entry)
	l.version++
	return entry, true
}

// FindAndRemove removes the entry matching command and args and returns it.
func (l *Ledger) FindAndRemove(command, args string) (PendingRequest, bool) {
	i := l.find(command, args)
	if i < 0 {
		return PendingRequest{}, false
	}

	entry := *l.entries[i]
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	l.version++
	return entry, true
}

// IsDuplicate reports whether a datagram with exactly this command and args
// is still pending.
func (l *Ledger) IsDuplicate(command, args string) bool {
	return l.find(command, args) >= 0
}

func (l *Ledger) find(command, args string) int {
	for i, e := range l.entries {
		if e.Command == command && e.Args == args {
			return i
		}
	}
	return -1
}

// Entries returns copies of all pending entries in insertion order.
func (l *Ledger) Entries() []PendingRequest {
	out := make([]PendingRequest, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Clear drops every entry.
func (l *Ledger) Clear() {
	l.entries = nil
	l.version++
}

// Sweep resends every entry whose last send is older than the timeout, and
// drops entries that already used their retry budget. The send result never
// changes the schedule: a failed send is still counted and retried next time.
func (l *Ledger) Sweep(send func(PendingRequest) error) SweepResult {
	var result SweepResult
	now := l.now()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if now.Sub(e.SentAt) <= l.timeout {
			kept = append(kept, e)
			continue
		}

		if e.Attempts >= l.retryBudget {
			result.Abandoned = append(result.Abandoned, *e)
			l.version++
			continue
		}

		e.Attempts++
		e.SentAt = now
		_ = send(*e)
		result.Resent = append(result.Resent, *e)
		kept = append(kept, e)
		l.version++
	}

	// Release pointers past the new length.
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
	return result
}

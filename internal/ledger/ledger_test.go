package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLedger() (*Ledger, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(WithClock(clk.Now)), clk
}

func TestAddAssignsIDsAndRejectsDuplicates(t *testing.T) {
	l, clk := newTestLedger()

	first, added := l.Add(PendingRequest{Command: "stlob", Args: "eu:m1", Destination: "h:1"})
	require.True(t, added)
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, clk.Now(), first.CreatedAt)

	second, added := l.Add(PendingRequest{Command: "pjoin", Args: "p1:eu:m1"})
	require.True(t, added)
	assert.Equal(t, uint64(2), second.ID)

	dup, added := l.Add(PendingRequest{Command: "stlob", Args: "eu:m1", Destination: "other:2"})
	assert.False(t, added)
	assert.Equal(t, first.ID, dup.ID)
	assert.Equal(t, "h:1", dup.Destination, "existing entry is kept")
	assert.Equal(t, 2, l.Len())
}

func TestFindAndRemove(t *testing.T) {
	l, _ := newTestLedger()
	l.Add(PendingRequest{Command: "stlob", Args: "eu:m1", Origin: "c:1"})

	assert.True(t, l.IsDuplicate("stlob", "eu:m1"))
	assert.False(t, l.IsDuplicate("slack", "eu:m1"), "command is part of the key")
	assert.False(t, l.IsDuplicate("stlob", "eu:m2"))

	_, ok := l.FindAndRemove("stlob", "eu:m2")
	assert.False(t, ok)

	entry, ok := l.FindAndRemove("stlob", "eu:m1")
	require.True(t, ok)
	assert.Equal(t, "c:1", entry.Origin)
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.IsDuplicate("stlob", "eu:m1"))
}

// A request that never gets confirmed is resent exactly RetryBudget times at
// Timeout intervals, then removed, and nothing is sent afterwards.
func TestSweepRetryBound(t *testing.T) {
	l, clk := newTestLedger()
	l.Add(PendingRequest{Command: "stlob", Args: "eu:m1", Message: []byte("stlob eu:m1"), Destination: "h:1"})

	var sends []time.Time
	send := func(e PendingRequest) error {
		sends = append(sends, clk.Now())
		assert.Equal(t, "stlob eu:m1", string(e.Message))
		assert.Equal(t, "h:1", e.Destination)
		return nil
	}

	var abandoned []PendingRequest
	step := 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < 3*time.Second; elapsed += step {
		res := l.Sweep(send)
		abandoned = append(abandoned, res.Abandoned...)
		clk.Advance(step)
	}

	require.Len(t, sends, DefaultRetryBudget)
	for i := 1; i < len(sends); i++ {
		gap := sends[i].Sub(sends[i-1])
		assert.GreaterOrEqual(t, gap, DefaultTimeout)
		assert.LessOrEqual(t, gap, DefaultTimeout+step)
	}
	require.Len(t, abandoned, 1)
	assert.Equal(t, DefaultRetryBudget, abandoned[0].Attempts)
	assert.Equal(t, 0, l.Len())
}

func TestSweepSendFailureStillCounts(t *testing.T) {
	l, clk := newTestLedger()
	l.Add(PendingRequest{Command: "pjoin", Args: "p1:eu:m1"})

	calls := 0
	failing := func(PendingRequest) error {
		calls++
		return errors.New("network unreachable")
	}

	clk.Advance(DefaultTimeout + time.Millisecond)
	res := l.Sweep(failing)
	require.Len(t, res.Resent, 1)
	assert.Equal(t, 1, res.Resent[0].Attempts)

	// Timestamp was reset despite the failure, so an immediate sweep does nothing.
	res = l.Sweep(failing)
	assert.Empty(t, res.Resent)
	assert.Equal(t, 1, calls)
}

func TestSweepLeavesFreshEntries(t *testing.T) {
	l, clk := newTestLedger()
	l.Add(PendingRequest{Command: "stlob", Args: "eu:old"})
	clk.Advance(200 * time.Millisecond)
	l.Add(PendingRequest{Command: "stlob", Args: "eu:new"})
	clk.Advance(100 * time.Millisecond)

	res := l.Sweep(func(PendingRequest) error { return nil })
	require.Len(t, res.Resent, 1)
	assert.Equal(t, "eu:old", res.Resent[0].Args)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "eu:old", entries[0].Args, "insertion order is preserved")
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, 0, entries[1].Attempts)
}

func TestOptionsAndClear(t *testing.T) {
	l := New(WithTimeout(time.Second), WithRetryBudget(5))
	assert.Equal(t, time.Second, l.Timeout())
	assert.Equal(t, 5, l.RetryBudget())

	l.Add(PendingRequest{Command: "pinvi", Args: "p1:p2:eu:m1"})
	v := l.Version()
	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Greater(t, l.Version(), v)
}

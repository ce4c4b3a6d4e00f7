package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/ledger"
	"github.com/energizer-project/lobbymaster/internal/master"
	"github.com/energizer-project/lobbymaster/internal/registry"
	"github.com/energizer-project/lobbymaster/internal/util"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("master loop stopped")

type loopOp struct {
	fn   func(d *master.Dispatcher)
	done chan struct{}
}

// UDPMasterListener owns the coordinator socket and runs the single-threaded
// event loop. Each iteration runs queued admin operations, reads at most one
// datagram, dispatches it, then sweeps the ledger. All registry and ledger
// access happens on the loop goroutine.
type UDPMasterListener struct {
	cfg        config.MasterConfig
	conn       *net.UDPConn
	dispatcher *master.Dispatcher
	logger     zerolog.Logger

	ops      chan loopOp
	ready    chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	snapshot    atomic.Pointer[master.Snapshot]
	lastVersion uint64
}

// NewUDPMasterListener creates the listener with an empty registry and
// ledger. bus may be nil.
func NewUDPMasterListener(cfg *config.Config, bus *events.EventBus) *UDPMasterListener {
	mc := cfg.GetMaster()
	l := &UDPMasterListener{
		cfg:     mc,
		logger:  util.ComponentLogger("udp"),
		ops:     make(chan loopOp, 16),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}

	pending := ledger.New(
		ledger.WithTimeout(mc.RetransmitTimeout()),
		ledger.WithRetryBudget(mc.RetryBudget),
	)
	l.dispatcher = master.NewDispatcher(registry.New(), pending, l, bus)
	l.publish(true)
	return l
}

// Start binds the socket and runs the loop until ctx is cancelled.
func (l *UDPMasterListener) Start(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.stopped) })

	lc := ReuseAddrListenConfig(l.cfg.SocketBufferBytes)
	pc, err := lc.ListenPacket(ctx, "udp4", l.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to start UDP master listener on %s: %w", l.cfg.Addr(), err)
	}
	l.conn = pc.(*net.UDPConn)
	defer l.conn.Close()

	l.logger.Info().
		Str("addr", l.conn.LocalAddr().String()).
		Dur("retransmit_timeout", l.cfg.RetransmitTimeout()).
		Int("retry_budget", l.cfg.RetryBudget).
		Msg("UDP master listener started")
	close(l.ready)

	// One extra byte so an oversize datagram is seen as oversize, not as a
	// truncated valid one.
	buf := make([]byte, l.cfg.RecvBufferBytes+1)
	poll := l.cfg.PollInterval()

	for {
		if ctx.Err() != nil {
			l.logger.Info().Msg("UDP master listener stopping")
			return nil
		}

		l.runOps()

		if err := l.conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, remote, err := l.conn.ReadFromUDPAddrPort(buf)
		switch {
		case err == nil:
			from := netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())
			if n > l.cfg.RecvBufferBytes {
				l.logger.Warn().Str("from", from.String()).Int("limit", l.cfg.RecvBufferBytes).Msg("dropping oversize datagram")
				break
			}
			l.dispatcher.Handle(ctx, buf[:n], from.String())
		case isTimeout(err):
			// Nothing queued this iteration.
		case errors.Is(err, net.ErrClosed):
			return nil
		default:
			l.logger.Error().Err(err).Msg("UDP read error")
		}

		l.dispatcher.Sweep(ctx)
		l.publish(false)
	}
}

// Send writes payload to an "ip:port" endpoint. It implements master.Sender.
func (l *UDPMasterListener) Send(payload []byte, to string) error {
	if l.conn == nil {
		return fmt.Errorf("send to %s: socket not open", to)
	}
	addr, err := netip.ParseAddrPort(to)
	if err != nil {
		return fmt.Errorf("send to %q: %w", to, err)
	}
	if _, err := l.conn.WriteToUDPAddrPort(payload, addr); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	l.logger.Trace().Str("to", to).Bytes("payload", payload).Msg("sent")
	return nil
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (l *UDPMasterListener) Do(ctx context.Context, fn func(d *master.Dispatcher)) error {
	op := loopOp{fn: fn, done: make(chan struct{})}

	select {
	case l.ops <- op:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-op.done:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the most recently published state. Safe from any goroutine.
func (l *UDPMasterListener) Snapshot() master.Snapshot {
	return *l.snapshot.Load()
}

// Ready is closed once the socket is bound.
func (l *UDPMasterListener) Ready() <-chan struct{} {
	return l.ready
}

// LocalAddr returns the bound address, or nil before Start binds.
func (l *UDPMasterListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *UDPMasterListener) runOps() {
	for {
		select {
		case op := <-l.ops:
			op.fn(l.dispatcher)
			close(op.done)
		default:
			return
		}
	}
}

// publish replaces the shared snapshot when state changed since the last one.
func (l *UDPMasterListener) publish(force bool) {
	v := l.dispatcher.Version()
	if !force && v == l.lastVersion {
		return
	}
	snap := l.dispatcher.Snapshot()
	l.snapshot.Store(&snap)
	l.lastVersion = v
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

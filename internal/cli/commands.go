// Package cli implements the interactive operator console.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/db"
	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/master"
	"github.com/energizer-project/lobbymaster/internal/registry"
	"github.com/energizer-project/lobbymaster/internal/util"
)

// Coordinator is the part of the master loop the console drives.
type Coordinator interface {
	Snapshot() master.Snapshot
	Do(ctx context.Context, fn func(d *master.Dispatcher)) error
}

// JournalReader reads recent journal entries.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]db.JournalEntry, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	coord    Coordinator
	journal  JournalReader

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading from in and writing to out. journal may
// be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, coord Coordinator, journal JournalReader, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		coord:    coord,
		journal:  journal,
		in:       in,
		out:      out,
	}
}

// errQuit stops the read loop.
var errQuit = errors.New("quit")

// Start reads commands until EOF, quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nlobbymaster console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "lobbymaster> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "regions":
		c.printRegions()
	case "lobbies", "l":
		c.printLobbies(args)
	case "players", "p":
		c.printPlayers()
	case "pending":
		c.printPending()
	case "journal", "j":
		return c.printJournal(ctx, args)
	case "clear":
		return c.cmdClear(ctx)
	case "close":
		return c.cmdClose(ctx, args)
	case "loglevel":
		return c.cmdLogLevel(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down lobbymaster...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		}
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status               Show table sizes and socket address
  regions              List regions and their idle hosts
  lobbies [region]     List lobbies, optionally for one region
  players              List known players
  pending              List unconfirmed forwarded requests
  journal [n]          Show the last n journal entries (default 20)
  close <region:lobby> Close a lobby and evict its roster
  clear                Wipe all registry and pending state
  loglevel <level>     Change the log level (trace..error)
  quit                 Shut down
  help                 Show this help message`)
}

func (c *CLI) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	snap := c.coord.Snapshot()
	m := c.cfg.GetMaster()

	idle, inLobby := 0, 0
	for _, r := range snap.Regions {
		idle += len(r.IdleHosts)
	}
	for _, p := range snap.Players {
		if p.Lobby != "" {
			inLobby++
		}
	}

	tw := c.table("Listen", "Regions", "Idle Hosts", "Lobbies", "Players", "In Lobby", "Pending")
	tw.Append([]string{
		m.Addr(),
		strconv.Itoa(len(snap.Regions)),
		strconv.Itoa(idle),
		strconv.Itoa(len(snap.Lobbies)),
		strconv.Itoa(len(snap.Players)),
		strconv.Itoa(inLobby),
		strconv.Itoa(len(snap.Pending)),
	})
	tw.Render()
}

func (c *CLI) printRegions() {
	snap := c.coord.Snapshot()
	tw := c.table("Region", "Lobbies", "Idle Hosts")
	for _, r := range snap.Regions {
		tw.Append([]string{r.Name, strconv.Itoa(len(r.Lobbies)), strings.Join(r.IdleHosts, " ")})
	}
	tw.Render()
}

func (c *CLI) printLobbies(args []string) {
	snap := c.coord.Snapshot()
	tw := c.table("Lobby", "Host", "Players", "Roster")
	for _, l := range snap.Lobbies {
		if len(args) > 0 && l.Region != args[0] {
			continue
		}
		tw.Append([]string{l.Key, l.Host, strconv.Itoa(len(l.Roster)), strings.Join(l.Roster, " ")})
	}
	tw.Render()
}

func (c *CLI) printPlayers() {
	snap := c.coord.Snapshot()
	tw := c.table("Player", "Endpoint", "Lobby")
	for _, p := range snap.Players {
		lobby := p.Lobby
		if lobby == "" {
			lobby = "-"
		}
		tw.Append([]string{p.ID, p.Endpoint, lobby})
	}
	tw.Render()
}

func (c *CLI) printPending() {
	snap := c.coord.Snapshot()
	tw := c.table("Command", "Args", "Destination", "Attempts", "Age")
	for _, p := range snap.Pending {
		tw.Append([]string{
			p.Command,
			p.Args,
			p.Destination,
			strconv.Itoa(p.Attempts),
			snap.TakenAt.Sub(p.CreatedAt).Truncate(time.Millisecond).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printJournal(ctx context.Context, args []string) error {
	if c.journal == nil {
		return fmt.Errorf("journal is disabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	entries, err := c.journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := c.table("Time", "Event", "Lobby", "Player")
	for _, e := range entries {
		tw.Append([]string{e.CreatedAt.Format(time.TimeOnly), e.EventType, e.Lobby, e.Player})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdClear(ctx context.Context) error {
	if err := c.coord.Do(ctx, func(d *master.Dispatcher) { d.Clear(ctx) }); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "State cleared")
	return nil
}

func (c *CLI) cmdClose(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: close <region:lobby>")
	}
	key := args[0]
	if _, _, ok := registry.SplitLobbyKey(key); !ok {
		return fmt.Errorf("invalid lobby key: %s", key)
	}

	var evicted []string
	var closeErr error
	if err := c.coord.Do(ctx, func(d *master.Dispatcher) {
		evicted, closeErr = d.CloseLobby(ctx, key)
	}); err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	fmt.Fprintf(c.out, "Closed %s, evicted %d player(s)\n", key, len(evicted))
	return nil
}

func (c *CLI) cmdLogLevel(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: loglevel <level>")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(args[0])); err != nil {
		return fmt.Errorf("invalid log level: %s", args[0])
	}
	level := util.SetLevel(args[0])
	c.cfg.SetLogLevel(level.String())
	log.Info().Str("level", level.String()).Msg("log level changed")
	fmt.Fprintf(c.out, "Log level set to %s\n", level)
	return nil
}

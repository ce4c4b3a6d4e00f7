// lobbymaster is a UDP rendezvous coordinator for game lobbies.
//
// Dedicated hosts register per region, clients ask for lobbies, and players
// are introduced to the host that serves the lobby they join. The process
// also exposes a monitoring HTTP API, an optional MQTT event feed, a SQLite
// event journal and an operator console.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/energizer-project/lobbymaster/internal/api"
	"github.com/energizer-project/lobbymaster/internal/cli"
	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/db"
	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/network"
	"github.com/energizer-project/lobbymaster/internal/telemetry"
	"github.com/energizer-project/lobbymaster/internal/util"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  _       _     _                           _
 | | ___ | |__ | |__  _   _ _ __ ___   __ _| |_ ___ _ __
 | |/ _ \| '_ \| '_ \| | | | '_ ' _ \ / _' | __/ _ \ '__|
 | | (_) | |_) | |_) | |_| | | | | | | (_| | ||  __/ |
 |_|\___/|_.__/|_.__/ \__, |_| |_| |_|\__,_|\__\___|_|
                      |___/  %s
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lobbymaster: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configDir string
		port      int
		logLevel  string
		noConsole bool
		showVer   bool
	)

	flagSet := pflag.NewFlagSet("lobbymaster", pflag.ContinueOnError)
	flagSet.StringVarP(&configDir, "config-dir", "c", config.DefaultConfigDir, "directory holding config.json")
	flagSet.IntVarP(&port, "port", "p", 0, "UDP port to listen on (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides config)")
	flagSet.BoolVar(&noConsole, "no-console", false, "disable the interactive console")
	flagSet.BoolVar(&showVer, "version", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVer {
		fmt.Println(version)
		return nil
	}

	fmt.Printf(banner, version)
	fmt.Println()

	// Defaults first so config loading is logged; reconfigured below.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if flagSet.Changed("port") {
		cfg.SetMasterPort(port)
	}
	if flagSet.Changed("log-level") {
		cfg.SetLogLevel(logLevel)
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, fix the errors above in %s", cfg.Path())
	}

	session := uuid.NewString()
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", version).
		Str("session", session).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("hostname", sysInfo.Hostname).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting lobbymaster")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	listener := network.NewUDPMasterListener(cfg, eventBus)

	var journal *db.Journal
	if jc := cfg.GetJournal(); jc.Enabled {
		journal, err = db.NewJournal(jc.Path, session)
		if err != nil {
			log.Warn().Err(err).Str("path", jc.Path).Msg("failed to open journal, continuing without it")
			journal = nil
		} else {
			journal.Subscribe(eventBus)
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, session)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil {
			errCh <- fmt.Errorf("udp master: %w", err)
		}
	}()

	select {
	case <-listener.Ready():
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	}

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(cfg, listener, journalReader(journal), api.BuildInfo{
			Version:   version,
			Session:   session,
			StartedAt: time.Now(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if cfg.GetConsole().Enabled && !noConsole {
		var reader cli.JournalReader
		if journal != nil {
			reader = journal
		}
		console := cli.NewCLI(cfg, eventBus, listener, reader, os.Stdin, os.Stdout)
		// Not tracked by wg: a blocked stdin read must not hold up shutdown.
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested from console")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()
	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}

	log.Info().Msg("lobbymaster stopped")
	return runErr
}

// journalReader avoids handing the API a typed nil.
func journalReader(j *db.Journal) api.JournalReader {
	if j == nil {
		return nil
	}
	return j
}

package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/db"
	"github.com/energizer-project/lobbymaster/internal/master"
	intnet "github.com/energizer-project/lobbymaster/internal/network"
	"github.com/energizer-project/lobbymaster/internal/util"
)

// Coordinator is the part of the master loop the API needs. Reads use the
// published snapshot; mutations run on the loop through Do.
type Coordinator interface {
	Snapshot() master.Snapshot
	Do(ctx context.Context, fn func(d *master.Dispatcher)) error
}

// JournalReader reads the handshake journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]db.JournalEntry, error)
	ForLobby(ctx context.Context, key string) ([]db.JournalEntry, error)
	CountByType(ctx context.Context) (map[string]int, error)
}

// BuildInfo identifies the running process.
type BuildInfo struct {
	Version   string
	Session   string
	StartedAt time.Time
}

// Server is the admin and monitoring HTTP API.
type Server struct {
	cfg     *config.Config
	coord   Coordinator
	journal JournalReader
	build   BuildInfo

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. journal may be nil.
func NewServer(cfg *config.Config, coord Coordinator, journal JournalReader, build BuildInfo) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		coord:   coord,
		journal: journal,
		build:   build,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := apiCfg.Addr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		if err := util.EnsureSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, apiCfg.ListenAddress, "localhost"); err != nil {
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig(0)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if apiCfg.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // incompatible with a "*" origin
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/regions", s.handleRegions)
		monitor.GET("/lobbies", s.handleLobbies)
		monitor.GET("/lobbies/:region/:lobby", s.handleLobby)
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/pending", s.handlePending)
		monitor.GET("/journal", s.handleJournal)
	}

	control := router.Group("/api/control")
	control.Use(IPAllowlist(apiCfg.ControlAllowlist))
	{
		control.POST("/clear", s.handleClear)
		control.POST("/close/:region/:lobby", s.handleClose)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "lobbymaster API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbymaster/internal/master"
	"github.com/energizer-project/lobbymaster/internal/registry"
)

// handleClear wipes all coordinator state.
func (s *Server) handleClear(c *gin.Context) {
	ctx := c.Request.Context()
	err := s.coord.Do(ctx, func(d *master.Dispatcher) {
		d.Clear(ctx)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("client_ip", c.ClientIP()).Msg("state cleared via API")
	c.JSON(http.StatusOK, gin.H{"message": "state cleared"})
}

// handleClose closes a lobby with the same cascade as the close command.
func (s *Server) handleClose(c *gin.Context) {
	ctx := c.Request.Context()
	key := registry.LobbyKey(c.Param("region"), c.Param("lobby"))

	var evicted []string
	var closeErr error
	err := s.coord.Do(ctx, func(d *master.Dispatcher) {
		evicted, closeErr = d.CloseLobby(ctx, key)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	switch {
	case errors.Is(closeErr, registry.ErrUnknownLobby):
		c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found", "lobby": key})
	case closeErr != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": closeErr.Error()})
	default:
		log.Info().Str("lobby", key).Str("client_ip", c.ClientIP()).Msg("lobby closed via API")
		if evicted == nil {
			evicted = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"lobby": key, "evicted": evicted})
	}
}

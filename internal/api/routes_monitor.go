package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/lobbymaster/internal/registry"
)

const defaultJournalLimit = 100

// handleStatus returns table sizes.
func (s *Server) handleStatus(c *gin.Context) {
	snap := s.coord.Snapshot()

	idle := 0
	for _, r := range snap.Regions {
		idle += len(r.IdleHosts)
	}
	inLobby := 0
	for _, p := range snap.Players {
		if p.Lobby != "" {
			inLobby++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"regions":          len(snap.Regions),
		"idle_hosts":       idle,
		"lobbies":          len(snap.Lobbies),
		"players":          len(snap.Players),
		"players_in_lobby": inLobby,
		"pending":          len(snap.Pending),
		"taken_at":         snap.TakenAt,
	})
}

func (s *Server) handleRegions(c *gin.Context) {
	snap := s.coord.Snapshot()
	c.JSON(http.StatusOK, gin.H{"regions": snap.Regions, "total": len(snap.Regions)})
}

// handleLobbies lists lobbies, optionally filtered by ?region=.
func (s *Server) handleLobbies(c *gin.Context) {
	snap := s.coord.Snapshot()
	lobbies := snap.Lobbies
	if region := c.Query("region"); region != "" {
		lobbies = lobbies[:0:0]
		for _, l := range snap.Lobbies {
			if l.Region == region {
				lobbies = append(lobbies, l)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"lobbies": lobbies, "total": len(lobbies)})
}

// handleLobby returns one lobby and, when the journal is enabled, its history.
func (s *Server) handleLobby(c *gin.Context) {
	key := registry.LobbyKey(c.Param("region"), c.Param("lobby"))
	snap := s.coord.Snapshot()

	for _, l := range snap.Lobbies {
		if l.Key != key {
			continue
		}
		resp := gin.H{"lobby": l}
		if s.journal != nil {
			history, err := s.journal.ForLobby(c.Request.Context(), key)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			resp["history"] = history
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found", "lobby": key})
}

func (s *Server) handlePlayers(c *gin.Context) {
	snap := s.coord.Snapshot()
	c.JSON(http.StatusOK, gin.H{"players": snap.Players, "total": len(snap.Players)})
}

func (s *Server) handlePending(c *gin.Context) {
	snap := s.coord.Snapshot()
	c.JSON(http.StatusOK, gin.H{"pending": snap.Pending, "total": len(snap.Pending)})
}

// handleJournal returns recent journal entries (?limit=, default 100).
func (s *Server) handleJournal(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	limit := defaultJournalLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	counts, err := s.journal.CountByType(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "session_counts": counts})
}

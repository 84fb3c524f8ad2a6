package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "bzmonitor",
		"version": "1.0.0",
	})
}

// handleStatus returns connection state, world counts, and host stats.
func (s *Server) handleStatus(c *gin.Context) {
	lobbies, players := s.model.Counts()
	sysInfo := util.GetSystemInfo()

	status := gin.H{
		"state":        s.sess.State().String(),
		"variant":      s.sess.Variant().String(),
		"server":       s.sess.Address(),
		"self_id":      s.sess.SelfID(),
		"joined_lobby": s.sess.JoinedLobby(),
		"lobby_count":  lobbies,
		"player_count": players,
		"uptime_sec":   int(time.Since(s.startedAt).Seconds()),
		"hostname":     sysInfo.Hostname,
		"platform":     sysInfo.Platform,
	}
	if err := s.sess.LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory_used_percent"] = mem.UsedPercent
	}
	if s.recorder != nil {
		if n, err := s.recorder.ChatCount(); err == nil {
			status["chat_recorded"] = n
		}
	}

	c.JSON(http.StatusOK, status)
}

// handleGetLobbies returns the current lobby list.
func (s *Server) handleGetLobbies(c *gin.Context) {
	lobbies := s.model.Lobbies()
	c.JSON(http.StatusOK, gin.H{
		"lobbies": lobbies,
		"count":   len(lobbies),
	})
}

// handleGetLobby returns one lobby by id.
func (s *Server) handleGetLobby(c *gin.Context) {
	lobby, ok := s.model.Lobby(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found"})
		return
	}
	c.JSON(http.StatusOK, lobby)
}

// handleGetPlayers returns a lobby's member list.
func (s *Server) handleGetPlayers(c *gin.Context) {
	id := c.Param("id")
	if !s.model.HasLobby(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found"})
		return
	}
	players := s.model.Players(id)
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"count":   len(players),
	})
}

// handleGetChat returns a lobby's in-memory chat buffer.
func (s *Server) handleGetChat(c *gin.Context) {
	id := c.Param("id")
	if !s.model.HasLobby(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": s.model.ChatHistory(id)})
}

// handleGetChatHistory returns persisted chat for a lobby, including
// lines from before the current process started.
func (s *Server) handleGetChatHistory(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history recording is disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.recorder.RecentChat(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": records})
}

// handleGetPlayer returns one player by account id.
func (s *Server) handleGetPlayer(c *gin.Context) {
	player, ok := s.model.Player(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	c.JSON(http.StatusOK, player)
}

// ---- Session control ----

type joinRequest struct {
	LobbyID  string `json:"lobby_id" binding:"required"`
	Password string `json:"password"`
}

func (s *Server) handleJoin(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sess.JoinLobby(req.LobbyID, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "join requested"})
}

func (s *Server) handleLeave(c *gin.Context) {
	if err := s.sess.LeaveLobby(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

type sayRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleSay(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sess.SendChat(req.Text); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type createRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sess.CreateLobby(req.Name); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "create requested"})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.sess.RefreshLobbies(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refresh requested"})
}

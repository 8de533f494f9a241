// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liverace/backend/internal/ws"
)

// RaceSocketHandler handles WebSocket connections for race sessions.
type RaceSocketHandler struct {
	wsHandler *ws.Handler
}

// NewRaceSocketHandler creates a new RaceSocketHandler.
func NewRaceSocketHandler(wsHandler *ws.Handler) *RaceSocketHandler {
	return &RaceSocketHandler{wsHandler: wsHandler}
}

// Connect handles GET /ws/race/:race - a human participant connection.
func (h *RaceSocketHandler) Connect(c *gin.Context) {
	raceID := c.Param("race")
	if raceID == "" {
		c.Status(http.StatusNotFound)
		return
	}
	h.wsHandler.HandleRace(c.Writer, c.Request, raceID)
}

// ConnectBot handles GET /ws/bot/race/:race - a bot integration connection.
func (h *RaceSocketHandler) ConnectBot(c *gin.Context) {
	raceID := c.Param("race")
	if raceID == "" {
		c.Status(http.StatusNotFound)
		return
	}
	h.wsHandler.HandleBot(c.Writer, c.Request, raceID)
}

// RegisterRoutes registers the WebSocket routes on a Gin router group.
func (h *RaceSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/race/:race", h.Connect)
	rg.GET("/bot/race/:race", h.ConnectBot)
}

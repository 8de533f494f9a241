package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/liverace/backend/internal/model"
	"github.com/liverace/backend/internal/repository"
)

// RaceHandler handles read-only HTTP requests for races. It exists for
// pollers and tooling; the live protocol runs over the socket endpoints.
type RaceHandler struct {
	store *repository.RaceStore
}

// NewRaceHandler creates a new RaceHandler.
func NewRaceHandler(store *repository.RaceStore) *RaceHandler {
	return &RaceHandler{store: store}
}

// RaceResponse represents a race snapshot in API responses.
type RaceResponse struct {
	ID             string          `json:"id"`
	CategoryID     string          `json:"categoryId"`
	State          json.RawMessage `json:"state"`
	Version        int64           `json:"version"`
	Renders        json.RawMessage `json:"renders"`
	RendersVersion int64           `json:"rendersVersion"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toRaceResponse(snap *model.RaceSnapshot) *RaceResponse {
	return &RaceResponse{
		ID:             snap.ID,
		CategoryID:     snap.CategoryID,
		State:          snap.State,
		Version:        snap.Version,
		Renders:        snap.Renders,
		RendersVersion: snap.RendersVersion,
		CreatedAt:      snap.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      snap.UpdatedAt.Format(time.RFC3339),
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Get handles GET /api/races/:race - gets a race snapshot.
func (h *RaceHandler) Get(c *gin.Context) {
	raceID := c.Param("race")
	if raceID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Race ID is required")
		return
	}

	snap, err := h.store.Load(c.Request.Context(), raceID)
	if err != nil {
		if errors.Is(err, model.ErrRaceNotFound) {
			sendError(c, http.StatusNotFound, "RACE_NOT_FOUND", "Race "+raceID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get race: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, toRaceResponse(snap))
}

// History handles GET /api/races/:race/history - gets the chat history.
func (h *RaceHandler) History(c *gin.Context) {
	raceID := c.Param("race")
	if raceID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Race ID is required")
		return
	}

	messages, err := h.store.ChatHistory(c.Request.Context(), raceID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get chat history: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// RegisterRoutes registers the race handler routes on a Gin router group.
func (h *RaceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	races := rg.Group("/races")
	{
		races.GET("/:race", h.Get)
		races.GET("/:race/history", h.History)
	}
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/service"
	"github.com/propnest/propnest-backend/internal/storage"
)

// AdminHandlers contains handlers for internal admin API endpoints. They back
// the support recovery path for codes that never reached the user.
type AdminHandlers struct {
	services *service.Services
	store    Pinger
	logger   *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(services *service.Services, store Pinger, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		services: services,
		store:    store,
		logger:   logger.Named("admin-handlers"),
	}
}

// AdminStatusResponse is returned by GET /admin/status
type AdminStatusResponse struct {
	StatusResponse
	Storage    string         `json:"storage"`
	Dispatcher *DispatcherInfo `json:"dispatcher,omitempty"`
}

// DispatcherInfo mirrors the dispatcher counters.
type DispatcherInfo struct {
	Enqueued     uint64 `json:"enqueued"`
	Delivered    uint64 `json:"delivered"`
	FallbackUsed uint64 `json:"fallback_used"`
	Failed       uint64 `json:"failed"`
	Dropped      uint64 `json:"dropped"`
	QueueLength  int    `json:"queue_length"`
}

// ReissueRequest is the body of POST /admin/challenges/reissue
type ReissueRequest struct {
	Identity string `json:"identity" binding:"required"`
	Purpose  string `json:"purpose" binding:"required"`
}

// ReissueResponse reports what a reissue did.
type ReissueResponse struct {
	Outcome  string `json:"outcome"`
	Identity string `json:"identity,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
	Created  bool   `json:"created"`
}

// AdminStatus returns the admin API status
// GET /admin/status
func (h *AdminHandlers) AdminStatus(c *gin.Context) {
	resp := AdminStatusResponse{
		StatusResponse: StatusResponse{
			Status:       "ok",
			Service:      "propnest-backend-admin",
			APIVersion:   CurrentAPIVersion,
			Capabilities: APICapabilities[CurrentAPIVersion],
		},
		Storage: "ok",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Storage ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Storage = "unreachable"
	}

	if h.services != nil && h.services.Dispatcher != nil {
		stats := h.services.Dispatcher.Stats()
		resp.Dispatcher = &DispatcherInfo{
			Enqueued:     stats.Enqueued,
			Delivered:    stats.Delivered,
			FallbackUsed: stats.FallbackUsed,
			Failed:       stats.Failed,
			Dropped:      stats.Dropped,
			QueueLength:  stats.QueueLength,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetChallenge returns challenge metadata. The code is never included.
// GET /admin/challenges/:purpose/:email
func (h *AdminHandlers) GetChallenge(c *gin.Context) {
	info, err := h.services.Verification.InspectChallenge(c.Request.Context(), c.Param("email"), c.Param("purpose"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purpose"})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found"})
		default:
			h.logger.Error("Failed to inspect challenge", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to inspect challenge"})
		}
		return
	}

	c.JSON(http.StatusOK, info)
}

// ReissueChallenge issues a fresh code and queues its delivery
// POST /admin/challenges/reissue
func (h *AdminHandlers) ReissueChallenge(c *gin.Context) {
	var req ReissueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.services.Verification.IssueChallenge(c.Request.Context(), req.Identity, req.Purpose)
	if err != nil {
		h.logger.Error("Failed to reissue challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reissue challenge"})
		return
	}

	resp := ReissueResponse{
		Outcome:  result.Outcome.String(),
		Identity: result.Identity,
		Purpose:  string(result.Purpose),
		Created:  result.Created,
	}
	if result.Outcome != domain.IssueSuccess {
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	h.logger.Info("Challenge reissued by admin",
		zap.String("purpose", resp.Purpose),
		zap.Bool("created", resp.Created))
	c.JSON(http.StatusOK, resp)
}

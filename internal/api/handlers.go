package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/service"
	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
	"github.com/propnest/propnest-backend/pkg/middleware"
)

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers aggregates all HTTP handlers
type Handlers struct {
	services *service.Services
	store    Pinger
	cfg      *config.Config
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services *service.Services, store Pinger, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("handlers"),
	}
}

// OTPRequest is the body of POST /auth/otp/request
type OTPRequest struct {
	Identity string `json:"identity"`
	Purpose  string `json:"purpose"`
}

// OTPVerifyRequest is the body of POST /auth/otp/verify
type OTPVerifyRequest struct {
	Identity string `json:"identity"`
	Code     string `json:"code"`
	Purpose  string `json:"purpose"`
}

// PasswordResetRequest is the body of POST /auth/password/reset
type PasswordResetRequest struct {
	Identity      string `json:"identity"`
	NewCredential string `json:"new_credential"`
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// bindJSON decodes the request body. An empty body decodes to the zero
// value so that missing fields surface as domain outcomes.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "message": "Malformed JSON body"})
		return false
	}
	return true
}

func (h *Handlers) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	middleware.RecordError(c, err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
}

// Status handles the /status endpoint
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Service:      "propnest-backend",
		APIVersion:   CurrentAPIVersion,
		Capabilities: APICapabilities[CurrentAPIVersion],
	})
}

// Health reports whether the storage backend is reachable
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RequestOTP issues a one-time code for signup or credential reset
// POST /auth/otp/request
func (h *Handlers) RequestOTP(c *gin.Context) {
	var req OTPRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.services.Verification.IssueChallenge(c.Request.Context(), req.Identity, req.Purpose)
	if err != nil {
		h.internalError(c, "Failed to issue challenge", err)
		return
	}

	if result.Outcome != domain.IssueSuccess {
		c.JSON(issueStatus(result.Outcome), gin.H{
			"success": false,
			"error":   result.Outcome.String(),
			"message": issueMessages[result.Outcome],
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"identity": result.Identity,
		"purpose":  result.Purpose,
	})
}

// VerifyOTP checks a submitted one-time code
// POST /auth/otp/verify
func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req OTPVerifyRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.services.Verification.VerifyChallenge(c.Request.Context(), req.Identity, req.Code, req.Purpose)
	if err != nil {
		h.internalError(c, "Failed to verify challenge", err)
		return
	}

	if result.Outcome != domain.VerifySuccess {
		body := gin.H{
			"success": false,
			"error":   result.Outcome.String(),
			"message": verifyMessages[result.Outcome],
		}
		if result.Outcome == domain.VerifyMismatch {
			body["attempts_remaining"] = result.AttemptsRemaining
		}
		c.JSON(verifyStatus(result.Outcome), body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"identity": result.Identity,
		"purpose":  result.Purpose,
	})
}

// ResetPassword replaces the password of a verified identity
// POST /auth/password/reset
func (h *Handlers) ResetPassword(c *gin.Context) {
	var req PasswordResetRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.services.Verification.ResetCredential(c.Request.Context(), req.Identity, req.NewCredential)
	if err != nil {
		h.internalError(c, "Failed to reset credential", err)
		return
	}

	if result.Outcome != domain.ResetSuccess {
		c.JSON(resetStatus(result.Outcome), gin.H{
			"success": false,
			"error":   result.Outcome.String(),
			"message": resetMessages[result.Outcome],
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Register creates an account and sends the signup verification code
// POST /auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := h.services.Accounts.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_fields"})
		case errors.Is(err, domain.ErrInvalidIdentity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		case errors.Is(err, service.ErrPasswordTooShort):
			c.JSON(http.StatusBadRequest, gin.H{"error": "password_too_short"})
		case errors.Is(err, service.ErrPasswordTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": "password_too_long"})
		case errors.Is(err, service.ErrAccountExists):
			c.JSON(http.StatusConflict, gin.H{"error": "account_exists"})
		default:
			h.internalError(c, "Failed to register account", err)
		}
		return
	}

	verification := "sent"
	if _, err := h.services.Verification.IssueChallenge(c.Request.Context(), account.Email, string(domain.PurposeSignup)); err != nil {
		h.logger.Warn("Failed to issue signup challenge after registration", zap.Error(err))
		verification = "pending"
	}

	c.JSON(http.StatusCreated, gin.H{
		"account":      account,
		"verification": verification,
	})
}

// Login authenticates with email and password
// POST /auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	account, token, err := h.services.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		case errors.Is(err, service.ErrSigningSecretMissing):
			middleware.RecordError(c, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_configuration_error"})
		default:
			h.internalError(c, "Failed to log in", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"token":   token,
	})
}

// GetAccount returns the authenticated account
// GET /account/me
func (h *Handlers) GetAccount(c *gin.Context) {
	accountID := domain.AccountIDFromString(c.GetString("account_id"))

	account, err := h.services.Accounts.GetByID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
			return
		}
		h.internalError(c, "Failed to load account", err)
		return
	}

	c.JSON(http.StatusOK, account)
}

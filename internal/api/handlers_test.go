package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propnest/propnest-backend/pkg/config"
)

func TestHandlers_Status(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := doJSON(env.router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "propnest-backend", body["service"])
	assert.EqualValues(t, CurrentAPIVersion, body["api_version"])
}

func TestHandlers_Health(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := doJSON(env.router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestEnv(t, nil, stubPinger{err: errPingFailed})
	w = doJSON(down.router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandlers_RequestOTPValidation(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name      string
		body      interface{}
		wantCode  int
		wantError string
	}{
		{"empty body", nil, http.StatusBadRequest, "MISSING_IDENTITY"},
		{"missing identity", OTPRequest{Purpose: "signup"}, http.StatusBadRequest, "MISSING_IDENTITY"},
		{"bad identity", OTPRequest{Identity: "nope", Purpose: "signup"}, http.StatusBadRequest, "INVALID_IDENTITY"},
		{"bad purpose", OTPRequest{Identity: "alice@example.com", Purpose: "login"}, http.StatusBadRequest, "INVALID_PURPOSE"},
		{"malformed json", "{not json", http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(env.router, http.MethodPost, "/auth/otp/request", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestHandlers_SignupVerification(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "Alice@Example.com", Purpose: "signup"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice@example.com", body["identity"])
	assert.Equal(t, "signup", body["purpose"])
	assert.NotContains(t, w.Body.String(), env.lastCode(t), "code must never be returned to the caller")

	code := env.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	w = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: wrong, Purpose: "signup"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	assert.Equal(t, "MISMATCH", body["error"])
	assert.EqualValues(t, 2, body["attempts_remaining"])

	w = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: code, Purpose: "signup"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: code, Purpose: "signup"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])
}

func TestHandlers_VerifyOutcomeStatuses(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: "12ab56", Purpose: "signup"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CODE_FORMAT", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: "123456"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PURPOSE", decode(t, w)["error"])

	doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "alice@example.com", Purpose: "signup"})
	code := env.lastCode(t)
	env.advance(6 * time.Minute)

	w = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: code, Purpose: "signup"})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "EXPIRED", decode(t, w)["error"])

	doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "alice@example.com", Purpose: "signup"})
	code = env.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	var last int
	for i := 0; i < 3; i++ {
		last = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: wrong, Purpose: "signup"}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestHandlers_PasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com", Password: "first-password"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = doJSON(env.router, http.MethodPost, "/auth/password/reset", PasswordResetRequest{Identity: "alice@example.com", NewCredential: "second-password"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_VERIFIED", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "alice@example.com", Purpose: "credential_reset"})
	require.Equal(t, http.StatusOK, w.Code)
	code := env.lastCode(t)

	w = doJSON(env.router, http.MethodPost, "/auth/password/reset", PasswordResetRequest{Identity: "alice@example.com", NewCredential: "second-password"})
	assert.Equal(t, http.StatusForbidden, w.Code, "pending challenge blocks reset")

	w = doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: code, Purpose: "credential_reset"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(env.router, http.MethodPost, "/auth/password/reset", PasswordResetRequest{Identity: "alice@example.com", NewCredential: "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CREDENTIAL_TOO_SHORT", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/password/reset", PasswordResetRequest{Identity: "alice@example.com", NewCredential: strings.Repeat("x", 80)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CREDENTIAL_TOO_LONG", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/password/reset", PasswordResetRequest{Identity: "alice@example.com", NewCredential: "second-password"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = doJSON(env.router, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "first-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(env.router, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "second-password"})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = doJSON(env.router, http.MethodGet, "/account/me", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", decode(t, w)["email"])
}

func TestHandlers_ResetAuthorizationExpired(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com", Password: "first-password"})
	doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "alice@example.com", Purpose: "credential_reset"})
	w := doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: env.lastCode(t), Purpose: "credential_reset"})
	require.Equal(t, http.StatusOK, w.Code)

	env.advance(11 * time.Minute)
	w = doJSON(env.router, http.MethodPost, "/auth/password/reset", PasswordResetRequest{Identity: "alice@example.com", NewCredential: "second-password"})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "VERIFICATION_EXPIRED", decode(t, w)["error"])
}

func TestHandlers_ResetForUnknownAccountLooksIdentical(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "known@example.com", Password: "first-password"})

	known := doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "known@example.com", Purpose: "credential_reset"})
	unknown := doJSON(env.router, http.MethodPost, "/auth/otp/request", OTPRequest{Identity: "ghost@example.com", Purpose: "credential_reset"})

	assert.Equal(t, known.Code, unknown.Code)
	knownBody, unknownBody := decode(t, known), decode(t, unknown)
	assert.Equal(t, len(knownBody), len(unknownBody))
	assert.Equal(t, knownBody["success"], unknownBody["success"])
	assert.NotContains(t, unknownBody, "created")
}

func TestHandlers_RegisterAndLoginErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice", Password: "password123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_email", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com", Password: "12345"})
	assert.Equal(t, "password_too_short", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com", Password: strings.Repeat("x", 80)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "password_too_long", decode(t, w)["error"])

	w = doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "sent", decode(t, w)["verification"])

	w = doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "ALICE@example.com", Password: "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(env.router, http.MethodPost, "/auth/login", LoginRequest{Email: "bob@example.com", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_LoginWithoutSigningSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = ""
	env := newTestEnv(t, cfg, nil)

	w := doJSON(env.router, http.MethodPost, "/auth/register", RegisterRequest{Email: "alice@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(env.router, http.MethodPost, "/auth/login", LoginRequest{Email: "alice@example.com", Password: "password123"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "server_configuration_error", decode(t, w)["error"])
}

func TestHandlers_AccountRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := doJSON(env.router, http.MethodGet, "/account/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(env.router, http.MethodGet, "/account/me", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_VerificationRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AuthRateLimit = config.AuthRateLimitConfig{
		Enabled:        true,
		MaxAttempts:    2,
		WindowSeconds:  60,
		LockoutSeconds: 60,
	}
	env := newTestEnv(t, cfg, nil)

	first := doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: "123456", Purpose: "signup"})
	assert.Equal(t, http.StatusNotFound, first.Code)

	second := doJSON(env.router, http.MethodPost, "/auth/otp/verify", OTPVerifyRequest{Identity: "alice@example.com", Code: "123456", Purpose: "signup"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// Login is not behind the verification limiter.
	w := doJSON(env.router, http.MethodPost, "/auth/login", LoginRequest{Email: "bob@example.com", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

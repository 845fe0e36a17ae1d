package api

import (
	"net/http"

	"github.com/propnest/propnest-backend/internal/domain"
)

func issueStatus(o domain.IssueOutcome) int {
	if o == domain.IssueSuccess {
		return http.StatusOK
	}
	return http.StatusBadRequest
}

func verifyStatus(o domain.VerifyOutcome) int {
	switch o {
	case domain.VerifySuccess:
		return http.StatusOK
	case domain.VerifyNotFound:
		return http.StatusNotFound
	case domain.VerifyExpired:
		return http.StatusGone
	case domain.VerifyTooManyAttempts:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func resetStatus(o domain.ResetOutcome) int {
	switch o {
	case domain.ResetSuccess:
		return http.StatusOK
	case domain.ResetNotVerified:
		return http.StatusForbidden
	case domain.ResetVerificationExpired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

var verifyMessages = map[domain.VerifyOutcome]string{
	domain.VerifyMissingParameters: "Identity and code are required",
	domain.VerifyInvalidCodeFormat: "Code must be exactly 6 digits",
	domain.VerifyInvalidPurpose:    "Unknown verification purpose",
	domain.VerifyNotFound:          "No pending verification for this address",
	domain.VerifyExpired:           "Code expired, request a new one",
	domain.VerifyTooManyAttempts:   "Too many attempts, request a new code",
	domain.VerifyMismatch:          "Incorrect code",
}

var resetMessages = map[domain.ResetOutcome]string{
	domain.ResetMissingParameters:   "Identity and new password are required",
	domain.ResetCredentialTooShort:  "New password is too short",
	domain.ResetCredentialTooLong:   "New password is too long",
	domain.ResetNotVerified:         "Verify the reset code first",
	domain.ResetVerificationExpired: "Verification expired, request a new code",
}

var issueMessages = map[domain.IssueOutcome]string{
	domain.IssueMissingIdentity: "Email address is required",
	domain.IssueInvalidIdentity: "Email address is not valid",
	domain.IssueInvalidPurpose:  "Unknown verification purpose",
}

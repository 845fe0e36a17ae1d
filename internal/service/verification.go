package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/notify"
	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
)

// Notifier accepts code deliveries without blocking the caller.
type Notifier interface {
	Enqueue(job notify.Job) bool
}

// AccountDirectory is the slice of the account service the workflow needs.
type AccountDirectory interface {
	FindByIdentity(ctx context.Context, identity string) (*domain.Account, error)
	UpdateCredential(ctx context.Context, id domain.AccountID, hash string) error
	MarkEmailVerified(ctx context.Context, id domain.AccountID) error
}

// IssueResult is returned by IssueChallenge. For an unknown credential_reset
// identity it reports success without a challenge having been created;
// Created tells the two apart and must not be exposed to end users.
type IssueResult struct {
	Outcome  domain.IssueOutcome
	Identity string
	Purpose  domain.Purpose
	Created  bool
}

// VerifyResult is returned by VerifyChallenge.
type VerifyResult struct {
	Outcome           domain.VerifyOutcome
	Identity          string
	Purpose           domain.Purpose
	AttemptsRemaining int
}

// ResetResult is returned by ResetCredential.
type ResetResult struct {
	Outcome  domain.ResetOutcome
	Identity string
}

// ChallengeInfo describes a stored challenge without its code.
type ChallengeInfo struct {
	Identity     string          `json:"identity"`
	Purpose      domain.Purpose  `json:"purpose"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Expired      bool            `json:"expired"`
	LastDelivery *DeliveryStatus `json:"last_delivery,omitempty"`
}

// VerificationOption customizes a VerificationService.
type VerificationOption func(*VerificationService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) VerificationOption {
	return func(s *VerificationService) { s.now = now }
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen CodeGenerator) VerificationOption {
	return func(s *VerificationService) { s.generate = gen }
}

// WithDeliveryTracker attaches the tracker consulted by InspectChallenge.
func WithDeliveryTracker(tracker *DeliveryTracker) VerificationOption {
	return func(s *VerificationService) { s.deliveries = tracker }
}

// VerificationService issues and verifies one-time codes and gates
// credential resets behind a successful verification.
type VerificationService struct {
	challenges     storage.ChallengeStore
	authorizations storage.AuthorizationStore
	accounts       AccountDirectory
	notifier       Notifier
	deliveries     *DeliveryTracker
	cfg            config.VerificationConfig
	logger         *zap.Logger

	now      func() time.Time
	generate CodeGenerator
}

// NewVerificationService creates a new VerificationService
func NewVerificationService(
	challenges storage.ChallengeStore,
	authorizations storage.AuthorizationStore,
	accounts AccountDirectory,
	notifier Notifier,
	cfg config.VerificationConfig,
	logger *zap.Logger,
	opts ...VerificationOption,
) *VerificationService {
	cfg.SetDefaults()
	s := &VerificationService{
		challenges:     challenges,
		authorizations: authorizations,
		accounts:       accounts,
		notifier:       notifier,
		cfg:            cfg,
		logger:         logger.Named("verification-service"),
		now:            time.Now,
		generate:       GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// canonical is the lookup form of an identity that has not been validated.
func canonical(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IssueChallenge creates a fresh challenge for (identity, purpose) and hands
// the code to the notifier. Delivery never affects the result.
func (s *VerificationService) IssueChallenge(ctx context.Context, rawIdentity, rawPurpose string) (*IssueResult, error) {
	if strings.TrimSpace(rawIdentity) == "" {
		return &IssueResult{Outcome: domain.IssueMissingIdentity}, nil
	}
	identity, err := domain.NormalizeIdentity(rawIdentity)
	if err != nil {
		return &IssueResult{Outcome: domain.IssueInvalidIdentity}, nil
	}
	purpose, ok := domain.ParsePurpose(rawPurpose)
	if !ok {
		return &IssueResult{Outcome: domain.IssueInvalidPurpose, Identity: identity}, nil
	}

	result := &IssueResult{Outcome: domain.IssueSuccess, Identity: identity, Purpose: purpose}

	if purpose == domain.PurposeCredentialReset {
		if _, err := s.accounts.FindByIdentity(ctx, identity); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.logger.Debug("Reset requested for unknown identity", maskIdentity(identity))
				return result, nil
			}
			return nil, fmt.Errorf("failed to look up account: %w", err)
		}
	}

	code, err := s.generate()
	if err != nil {
		return nil, err
	}

	ttl := s.cfg.ChallengeTTL()
	challenge := domain.NewChallenge(identity, purpose, code, s.now(), ttl)
	if err := s.challenges.Put(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	result.Created = true

	if !s.notifier.Enqueue(notify.NewJob(identity, purpose, code, ttl)) {
		s.logger.Warn("Code delivery not queued; challenge kept for reissue",
			maskIdentity(identity),
			zap.String("purpose", string(purpose)))
	}

	s.logger.Info("Challenge issued",
		maskIdentity(identity),
		zap.String("purpose", string(purpose)),
		zap.Time("expires_at", challenge.ExpiresAt))

	return result, nil
}

// VerifyChallenge checks a submitted code. Outcomes are evaluated in a fixed
// priority order and the whole read-compare-update runs atomically per key.
func (s *VerificationService) VerifyChallenge(ctx context.Context, rawIdentity, code, rawPurpose string) (*VerifyResult, error) {
	if strings.TrimSpace(rawIdentity) == "" || code == "" {
		return &VerifyResult{Outcome: domain.VerifyMissingParameters}, nil
	}
	if !isCode(code) {
		return &VerifyResult{Outcome: domain.VerifyInvalidCodeFormat}, nil
	}
	identity := canonical(rawIdentity)
	purpose, ok := domain.ParsePurpose(rawPurpose)
	if !ok {
		return &VerifyResult{Outcome: domain.VerifyInvalidPurpose, Identity: identity}, nil
	}

	result := &VerifyResult{Identity: identity, Purpose: purpose}
	key := domain.ChallengeKey{Identity: identity, Purpose: purpose}
	maxAttempts := s.cfg.MaxAttempts
	var granted *domain.ResetAuthorization

	err := s.challenges.Update(ctx, key, func(current *domain.Challenge) (storage.ChallengeMutation, error) {
		now := s.now()
		result.AttemptsRemaining = 0
		if granted != nil {
			if err := s.authorizations.Revoke(ctx, granted); err != nil {
				return storage.ChallengeKeep, fmt.Errorf("failed to revoke reset authorization: %w", err)
			}
			granted = nil
		}

		switch {
		case current == nil:
			result.Outcome = domain.VerifyNotFound
			return storage.ChallengeKeep, nil
		case current.Expired(now):
			result.Outcome = domain.VerifyExpired
			return storage.ChallengeDelete, nil
		case current.Attempts >= maxAttempts:
			result.Outcome = domain.VerifyTooManyAttempts
			return storage.ChallengeDelete, nil
		case subtle.ConstantTimeCompare([]byte(current.Code), []byte(code)) != 1:
			current.Attempts++
			if current.Attempts >= maxAttempts {
				result.Outcome = domain.VerifyTooManyAttempts
				return storage.ChallengeDelete, nil
			}
			result.Outcome = domain.VerifyMismatch
			result.AttemptsRemaining = maxAttempts - current.Attempts
			return storage.ChallengeSave, nil
		}

		// The authorization must exist before the challenge disappears.
		if purpose == domain.PurposeCredentialReset {
			auth := domain.NewResetAuthorization(identity, now, s.cfg.AuthorizationTTL())
			if err := s.authorizations.Put(ctx, auth); err != nil {
				return storage.ChallengeKeep, fmt.Errorf("failed to store reset authorization: %w", err)
			}
			granted = auth
		}
		result.Outcome = domain.VerifySuccess
		return storage.ChallengeDelete, nil
	})

	// Update may have rerun fn after a concurrent write and reached a
	// different decision; an authorization from an abandoned pass must not outlive it.
	if granted != nil && (err != nil || result.Outcome != domain.VerifySuccess) {
		if revokeErr := s.authorizations.Revoke(ctx, granted); revokeErr != nil {
			s.logger.Error("Failed to revoke abandoned reset authorization",
				maskIdentity(identity),
				zap.Error(revokeErr))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify challenge: %w", err)
	}

	s.logger.Info("Challenge verification",
		maskIdentity(identity),
		zap.String("purpose", string(purpose)),
		zap.String("outcome", result.Outcome.String()))

	if result.Outcome == domain.VerifySuccess && purpose == domain.PurposeSignup {
		s.markVerified(ctx, identity)
	}
	return result, nil
}

func (s *VerificationService) markVerified(ctx context.Context, identity string) {
	account, err := s.accounts.FindByIdentity(ctx, identity)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to look up account after signup verification", zap.Error(err))
		}
		return
	}
	if err := s.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
		s.logger.Warn("Failed to mark email verified",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))
	}
}

// ResetCredential replaces the account credential once the identity holds a
// live reset authorization. The authorization is consumed on use and put
// back if the credential update fails.
func (s *VerificationService) ResetCredential(ctx context.Context, rawIdentity, newCredential string) (*ResetResult, error) {
	if strings.TrimSpace(rawIdentity) == "" || newCredential == "" {
		return &ResetResult{Outcome: domain.ResetMissingParameters}, nil
	}
	identity := canonical(rawIdentity)
	result := &ResetResult{Identity: identity}

	if utf8.RuneCountInString(newCredential) < s.cfg.MinPasswordLength {
		result.Outcome = domain.ResetCredentialTooShort
		return result, nil
	}
	if len(newCredential) > MaxCredentialBytes {
		result.Outcome = domain.ResetCredentialTooLong
		return result, nil
	}

	pending, err := s.pendingResetChallenge(ctx, identity)
	if err != nil {
		return nil, err
	}
	if pending {
		s.logger.Info("Reset rejected: challenge not yet verified", maskIdentity(identity))
		result.Outcome = domain.ResetNotVerified
		return result, nil
	}

	auth, err := s.authorizations.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			result.Outcome = domain.ResetNotVerified
			return result, nil
		}
		return nil, fmt.Errorf("failed to get reset authorization: %w", err)
	}
	if auth.Expired(s.now()) {
		if err := s.authorizations.Revoke(ctx, auth); err != nil {
			s.logger.Warn("Failed to evict expired reset authorization", zap.Error(err))
		}
		s.logger.Info("Reset rejected: authorization expired", maskIdentity(identity))
		result.Outcome = domain.ResetVerificationExpired
		return result, nil
	}

	account, err := s.accounts.FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Reset authorization held by unknown account", maskIdentity(identity))
			if err := s.authorizations.Revoke(ctx, auth); err != nil {
				s.logger.Warn("Failed to revoke orphaned reset authorization", zap.Error(err))
			}
			result.Outcome = domain.ResetNotVerified
			return result, nil
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	hash, err := HashCredential(newCredential)
	if err != nil {
		return nil, err
	}

	// A concurrent reset may have consumed it since Get.
	taken, err := s.authorizations.Take(ctx, identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			result.Outcome = domain.ResetNotVerified
			return result, nil
		}
		return nil, fmt.Errorf("failed to consume reset authorization: %w", err)
	}
	if taken.ID != auth.ID && taken.Expired(s.now()) {
		result.Outcome = domain.ResetVerificationExpired
		return result, nil
	}

	if err := s.accounts.UpdateCredential(ctx, account.ID, hash); err != nil {
		if restoreErr := s.authorizations.Put(ctx, taken); restoreErr != nil {
			s.logger.Error("Failed to restore reset authorization",
				maskIdentity(identity),
				zap.Error(restoreErr))
		}
		return nil, err
	}

	s.logger.Info("Credential reset", zap.String("account_id", account.ID.String()))
	result.Outcome = domain.ResetSuccess
	return result, nil
}

// pendingResetChallenge reports whether a live credential_reset challenge
// exists. An expired one is evicted and treated as absent.
func (s *VerificationService) pendingResetChallenge(ctx context.Context, identity string) (bool, error) {
	key := domain.ChallengeKey{Identity: identity, Purpose: domain.PurposeCredentialReset}
	live := false
	err := s.challenges.Update(ctx, key, func(current *domain.Challenge) (storage.ChallengeMutation, error) {
		live = false
		if current == nil {
			return storage.ChallengeKeep, nil
		}
		if current.Expired(s.now()) {
			return storage.ChallengeDelete, nil
		}
		live = true
		return storage.ChallengeKeep, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check pending challenge: %w", err)
	}
	return live, nil
}

// InspectChallenge returns metadata for a stored challenge. The code itself
// is never exposed.
func (s *VerificationService) InspectChallenge(ctx context.Context, rawIdentity, rawPurpose string) (*ChallengeInfo, error) {
	purpose, ok := domain.ParsePurpose(rawPurpose)
	if !ok {
		return nil, storage.ErrInvalidInput
	}
	key := domain.ChallengeKey{Identity: canonical(rawIdentity), Purpose: purpose}

	challenge, err := s.challenges.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	info := &ChallengeInfo{
		Identity:    challenge.Identity,
		Purpose:     challenge.Purpose,
		Attempts:    challenge.Attempts,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   challenge.CreatedAt,
		ExpiresAt:   challenge.ExpiresAt,
		Expired:     challenge.Expired(s.now()),
	}
	if s.deliveries != nil {
		if status, ok := s.deliveries.Last(key); ok {
			info.LastDelivery = &status
		}
	}
	return info, nil
}

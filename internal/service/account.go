package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/notify"
	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrPasswordTooLong    = errors.New("password too long")
	ErrMissingFields      = errors.New("missing required fields")
)

// AccountService handles account registration, sign-in and credential updates
type AccountService struct {
	store     storage.AccountStore
	tokens    *TokenIssuer
	minLength int
	logger    *zap.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(store storage.AccountStore, tokens *TokenIssuer, cfg *config.Config, logger *zap.Logger) *AccountService {
	verification := cfg.Verification
	verification.SetDefaults()
	return &AccountService{
		store:     store,
		tokens:    tokens,
		minLength: verification.MinPasswordLength,
		logger:    logger.Named("account-service"),
	}
}

// MaxCredentialBytes is the longest credential bcrypt accepts.
const MaxCredentialBytes = 72

// HashCredential bcrypt-hashes a plaintext credential.
func HashCredential(credential string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Register creates an account with a hashed password
func (s *AccountService) Register(ctx context.Context, email, password, displayName string) (*domain.Account, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingFields
	}
	identity, err := domain.NormalizeIdentity(email)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < s.minLength {
		return nil, ErrPasswordTooShort
	}
	if len(password) > MaxCredentialBytes {
		return nil, ErrPasswordTooLong
	}

	if _, err := s.store.GetByEmail(ctx, identity); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	hash, err := HashCredential(password)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:           domain.NewAccountID(),
		Email:        identity,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
	}
	if err := s.store.Create(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("Account registered", zap.String("account_id", account.ID.String()))
	return account, nil
}

// Login authenticates with email/password and returns a signed token
func (s *AccountService) Login(ctx context.Context, email, password string) (*domain.Account, string, error) {
	identity, err := domain.NormalizeIdentity(email)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}

	account, err := s.store.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to get account: %w", err)
	}

	if account.PasswordHash == "" {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		if errors.Is(err, ErrSigningSecretMissing) {
			s.logger.Error("Token signing secret missing; cannot complete login")
			return nil, "", err
		}
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("Account logged in", zap.String("account_id", account.ID.String()))
	return account, token, nil
}

// GetByID retrieves an account by ID
func (s *AccountService) GetByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return s.store.GetByID(ctx, id)
}

// FindByIdentity looks up an account by normalized email.
func (s *AccountService) FindByIdentity(ctx context.Context, identity string) (*domain.Account, error) {
	return s.store.GetByEmail(ctx, identity)
}

// UpdateCredential stores an already hashed credential.
func (s *AccountService) UpdateCredential(ctx context.Context, id domain.AccountID, hash string) error {
	if err := s.store.UpdatePasswordHash(ctx, id, hash); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	s.logger.Info("Account credential updated", zap.String("account_id", id.String()))
	return nil
}

// MarkEmailVerified flags the account's email as verified.
func (s *AccountService) MarkEmailVerified(ctx context.Context, id domain.AccountID) error {
	if err := s.store.MarkEmailVerified(ctx, id); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

func maskIdentity(identity string) zap.Field {
	return zap.String("identity", notify.MaskEmail(identity))
}

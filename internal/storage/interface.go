package storage

import (
	"context"
	"errors"
	"time"

	"github.com/propnest/propnest-backend/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
	// ErrConflict is returned when an atomic update lost too many races.
	ErrConflict = errors.New("concurrent modification")
)

// AccountStore defines the interface for account storage operations
type AccountStore interface {
	// Create creates a new account
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by ID
	GetByID(ctx context.Context, id domain.AccountID) (*domain.Account, error)

	// GetByEmail retrieves an account by its normalized email
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// UpdatePasswordHash replaces the stored credential hash
	UpdatePasswordHash(ctx context.Context, id domain.AccountID, hash string) error

	// MarkEmailVerified flags the account's email as verified
	MarkEmailVerified(ctx context.Context, id domain.AccountID) error
}

// ChallengeMutation tells ChallengeStore.Update what to do with the entry
// passed to the mutation function.
type ChallengeMutation int

const (
	// ChallengeKeep leaves the stored entry untouched.
	ChallengeKeep ChallengeMutation = iota
	// ChallengeSave writes back the (modified) entry.
	ChallengeSave
	// ChallengeDelete removes the entry.
	ChallengeDelete
)

// ChallengeFunc inspects the current challenge for a key (nil when absent)
// and decides how the store should proceed. Returning an error aborts the
// update and leaves the entry untouched.
type ChallengeFunc func(current *domain.Challenge) (ChallengeMutation, error)

// ChallengeStore holds at most one challenge per (identity, purpose) key.
// Entries are returned as stored; expiry is judged by the caller.
type ChallengeStore interface {
	// Put stores the challenge, replacing any existing entry for its key
	Put(ctx context.Context, challenge *domain.Challenge) error

	// Get retrieves the challenge for a key
	Get(ctx context.Context, key domain.ChallengeKey) (*domain.Challenge, error)

	// Update runs fn against the current entry and applies its decision
	// atomically with respect to other writers of the same key. fn may be
	// invoked more than once if a concurrent write is detected.
	Update(ctx context.Context, key domain.ChallengeKey, fn ChallengeFunc) error

	// Delete removes the challenge for a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key domain.ChallengeKey) error

	// DeleteExpired removes challenges that expired before the cutoff
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuthorizationStore holds reset authorizations keyed by identity.
type AuthorizationStore interface {
	// Put stores the authorization, replacing any existing one for the identity
	Put(ctx context.Context, auth *domain.ResetAuthorization) error

	// Get retrieves the authorization for an identity without consuming it
	Get(ctx context.Context, identity string) (*domain.ResetAuthorization, error)

	// Take atomically retrieves and removes the authorization for an identity
	Take(ctx context.Context, identity string) (*domain.ResetAuthorization, error)

	// Revoke removes the stored authorization only if it is the one given
	// (same ID). Revoking a missing or replaced authorization is not an error.
	Revoke(ctx context.Context, auth *domain.ResetAuthorization) error

	// DeleteExpired removes authorizations that expired before the cutoff
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// VerificationStore bundles the ephemeral stores used by the verification workflow.
type VerificationStore interface {
	Challenges() ChallengeStore
	Authorizations() AuthorizationStore

	// Close closes the store connection
	Close() error

	// Ping checks the store connection
	Ping(ctx context.Context) error
}

// Store is the interface for the account storage backend
type Store interface {
	Accounts() AccountStore

	// Close closes the storage connection
	Close() error

	// Ping checks the storage connection
	Ping(ctx context.Context) error
}

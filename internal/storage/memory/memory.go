package memory

import (
	"context"
	"sync"
	"time"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/storage"
)

// Store implements in-memory account and verification storage. Entries are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	accounts       *AccountStore
	challenges     *ChallengeStore
	authorizations *AuthorizationStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		accounts:       &AccountStore{data: make(map[string]*domain.Account), byEmail: make(map[string]string)},
		challenges:     &ChallengeStore{data: make(map[domain.ChallengeKey]*domain.Challenge)},
		authorizations: &AuthorizationStore{data: make(map[string]*domain.ResetAuthorization)},
	}
}

func (s *Store) Accounts() storage.AccountStore             { return s.accounts }
func (s *Store) Challenges() storage.ChallengeStore         { return s.challenges }
func (s *Store) Authorizations() storage.AuthorizationStore { return s.authorizations }
func (s *Store) Close() error                               { return nil }
func (s *Store) Ping(ctx context.Context) error             { return nil }

// AccountStore implements in-memory account storage
type AccountStore struct {
	mu      sync.RWMutex
	data    map[string]*domain.Account
	byEmail map[string]string
}

func (s *AccountStore) Create(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[account.ID.ID]; exists {
		return storage.ErrAlreadyExists
	}
	if _, exists := s.byEmail[account.Email]; exists {
		return storage.ErrAlreadyExists
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	stored := *account
	s.data[account.ID.ID] = &stored
	s.byEmail[account.Email] = account.ID.ID
	return nil
}

func (s *AccountStore) GetByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.data[id.ID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *account
	return &out, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byEmail[email]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *s.data[id]
	return &out, nil
}

func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id domain.AccountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.data[id.ID]
	if !exists {
		return storage.ErrNotFound
	}
	account.PasswordHash = hash
	account.UpdatedAt = time.Now()
	return nil
}

func (s *AccountStore) MarkEmailVerified(ctx context.Context, id domain.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.data[id.ID]
	if !exists {
		return storage.ErrNotFound
	}
	account.EmailVerified = true
	account.UpdatedAt = time.Now()
	return nil
}

// ChallengeStore implements in-memory challenge storage. A single mutex
// serializes every read-modify-write, which gives per-key exclusion.
type ChallengeStore struct {
	mu   sync.Mutex
	data map[domain.ChallengeKey]*domain.Challenge
}

func (s *ChallengeStore) Put(ctx context.Context, challenge *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *challenge
	if prev, ok := s.data[challenge.Key()]; ok {
		stored.Version = prev.Version + 1
	}
	s.data[challenge.Key()] = &stored
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, key domain.ChallengeKey) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *challenge
	return &out, nil
}

func (s *ChallengeStore) Update(ctx context.Context, key domain.ChallengeKey, fn storage.ChallengeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *domain.Challenge
	if stored, exists := s.data[key]; exists {
		c := *stored
		current = &c
	}

	mutation, err := fn(current)
	if err != nil {
		return err
	}

	switch mutation {
	case storage.ChallengeSave:
		if current == nil {
			return storage.ErrInvalidInput
		}
		current.Version++
		s.data[key] = current
	case storage.ChallengeDelete:
		delete(s.data, key)
	}
	return nil
}

func (s *ChallengeStore) Delete(ctx context.Context, key domain.ChallengeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, challenge := range s.data {
		if challenge.ExpiresAt.Before(cutoff) {
			delete(s.data, key)
			count++
		}
	}
	return count, nil
}

// AuthorizationStore implements in-memory reset authorization storage
type AuthorizationStore struct {
	mu   sync.Mutex
	data map[string]*domain.ResetAuthorization
}

func (s *AuthorizationStore) Put(ctx context.Context, auth *domain.ResetAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *auth
	s.data[auth.Identity] = &stored
	return nil
}

func (s *AuthorizationStore) Get(ctx context.Context, identity string) (*domain.ResetAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, exists := s.data[identity]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *auth
	return &out, nil
}

func (s *AuthorizationStore) Take(ctx context.Context, identity string) (*domain.ResetAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, exists := s.data[identity]
	if !exists {
		return nil, storage.ErrNotFound
	}
	delete(s.data, identity)
	return auth, nil
}

func (s *AuthorizationStore) Revoke(ctx context.Context, auth *domain.ResetAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.data[auth.Identity]; exists && stored.ID == auth.ID {
		delete(s.data, auth.Identity)
	}
	return nil
}

func (s *AuthorizationStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for identity, auth := range s.data {
		if auth.ExpiresAt.Before(cutoff) {
			delete(s.data, identity)
			count++
		}
	}
	return count, nil
}

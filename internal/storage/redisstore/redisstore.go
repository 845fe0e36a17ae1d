// Package redisstore stores challenges and reset authorizations in Redis so that
// several server instances share one verification state.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
)

const (
	defaultKeyPrefix = "propnest:otp:"
	maxWatchRetries  = 5
	// minKeyTTL keeps Redis from rejecting a zero or negative expiry.
	minKeyTTL = time.Second
)

// Store implements storage.VerificationStore on Redis.
type Store struct {
	client         redis.UniversalClient
	challenges     *ChallengeStore
	authorizations *AuthorizationStore
}

// NewStore connects to Redis and returns a verification store. Keys expire
// retention after the entry they hold.
func NewStore(cfg *config.RedisConfig, retention time.Duration, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Named("redis-store").Info("Connected to Redis verification store",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB))

	return NewStoreWithClient(client, cfg.KeyPrefix, retention), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{
		client:         client,
		challenges:     &ChallengeStore{client: client, prefix: prefix + "challenge:", retention: retention},
		authorizations: &AuthorizationStore{client: client, prefix: prefix + "reset-auth:", retention: retention},
	}
}

func (s *Store) Challenges() storage.ChallengeStore         { return s.challenges }
func (s *Store) Authorizations() storage.AuthorizationStore { return s.authorizations }
func (s *Store) Close() error                               { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func keyTTL(expiresAt time.Time, retention time.Duration) time.Duration {
	ttl := time.Until(expiresAt) + retention
	if ttl < minKeyTTL {
		return minKeyTTL
	}
	return ttl
}

// ChallengeStore implements challenge storage on Redis. Update uses
// WATCH/MULTI so concurrent writers of a key are serialized.
type ChallengeStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func (s *ChallengeStore) key(key domain.ChallengeKey) string {
	return s.prefix + string(key.Purpose) + ":" + key.Identity
}

func (s *ChallengeStore) Put(ctx context.Context, challenge *domain.Challenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.key(challenge.Key()), data, keyTTL(challenge.ExpiresAt, s.retention)).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, key domain.ChallengeKey) (*domain.Challenge, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return decodeChallenge(data)
}

func decodeChallenge(data []byte) (*domain.Challenge, error) {
	var challenge domain.Challenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &challenge, nil
}

func (s *ChallengeStore) Update(ctx context.Context, key domain.ChallengeKey, fn storage.ChallengeFunc) error {
	redisKey := s.key(key)

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var current *domain.Challenge
			data, err := tx.Get(ctx, redisKey).Bytes()
			switch {
			case err == nil:
				if current, err = decodeChallenge(data); err != nil {
					return err
				}
			case errors.Is(err, redis.Nil):
			default:
				return fmt.Errorf("failed to get challenge: %w", err)
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
				updated, err := json.Marshal(current)
				if err != nil {
					return fmt.Errorf("failed to encode challenge: %w", err)
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, redisKey, updated, keyTTL(current.ExpiresAt, s.retention))
					return nil
				})
				return err
			case storage.ChallengeDelete:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, redisKey)
					return nil
				})
				return err
			}
			return nil
		}, redisKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return storage.ErrConflict
}

func (s *ChallengeStore) Delete(ctx context.Context, key domain.ChallengeKey) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys on its own.
func (s *ChallengeStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// AuthorizationStore implements reset authorization storage on Redis
type AuthorizationStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func (s *AuthorizationStore) key(identity string) string {
	return s.prefix + identity
}

func (s *AuthorizationStore) Put(ctx context.Context, auth *domain.ResetAuthorization) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to encode reset authorization: %w", err)
	}
	if err := s.client.Set(ctx, s.key(auth.Identity), data, keyTTL(auth.ExpiresAt, s.retention)).Err(); err != nil {
		return fmt.Errorf("failed to store reset authorization: %w", err)
	}
	return nil
}

func (s *AuthorizationStore) Get(ctx context.Context, identity string) (*domain.ResetAuthorization, error) {
	return s.read(s.client.Get(ctx, s.key(identity)))
}

func (s *AuthorizationStore) Take(ctx context.Context, identity string) (*domain.ResetAuthorization, error) {
	return s.read(s.client.GetDel(ctx, s.key(identity)))
}

// Revoke deletes the key under WATCH so a concurrent Put is never removed.
func (s *AuthorizationStore) Revoke(ctx context.Context, auth *domain.ResetAuthorization) error {
	redisKey := s.key(auth.Identity)

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := s.read(tx.Get(ctx, redisKey))
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if stored.ID != auth.ID {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, redisKey)
				return nil
			})
			return err
		}, redisKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return storage.ErrConflict
}

func (s *AuthorizationStore) read(cmd *redis.StringCmd) (*domain.ResetAuthorization, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read reset authorization: %w", err)
	}
	var auth domain.ResetAuthorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("failed to decode reset authorization: %w", err)
	}
	return &auth, nil
}

// DeleteExpired is a no-op: Redis expires keys on its own.
func (s *AuthorizationStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

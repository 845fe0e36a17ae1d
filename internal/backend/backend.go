package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/internal/storage/memory"
	"github.com/propnest/propnest-backend/internal/storage/mongodb"
	"github.com/propnest/propnest-backend/internal/storage/redisstore"
	"github.com/propnest/propnest-backend/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory uses in-memory storage (for testing/development)
	TypeMemory Type = "memory"
	// TypeMongoDB uses MongoDB storage (for production)
	TypeMongoDB Type = "mongodb"
	// TypeRedis keeps challenges and authorizations in Redis
	TypeRedis Type = "redis"
)

// Backend wraps storage stores with a common interface for lifecycle management
type Backend interface {
	// Accounts returns the account store
	Accounts() storage.AccountStore
	// Challenges returns the challenge store
	Challenges() storage.ChallengeStore
	// Authorizations returns the reset authorization store
	Authorizations() storage.AuthorizationStore
	// Ping checks if every underlying store is alive
	Ping(ctx context.Context) error
	// Close closes every underlying store
	Close() error
}

type composite struct {
	accounts     storage.Store
	verification storage.VerificationStore
	closers      []func() error
}

func (b *composite) Accounts() storage.AccountStore { return b.accounts.Accounts() }
func (b *composite) Challenges() storage.ChallengeStore {
	return b.verification.Challenges()
}
func (b *composite) Authorizations() storage.AuthorizationStore {
	return b.verification.Authorizations()
}

func (b *composite) Ping(ctx context.Context) error {
	if err := b.accounts.Ping(ctx); err != nil {
		return fmt.Errorf("account store: %w", err)
	}
	if err := b.verification.Ping(ctx); err != nil {
		return fmt.Errorf("verification store: %w", err)
	}
	return nil
}

func (b *composite) Close() error {
	var errs []error
	for _, closer := range b.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New creates a storage backend based on the configuration. The verification
// store follows the account storage unless configured separately.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	retention := cfg.Verification.RetentionGrace()
	b := &composite{}

	var mongoStore *mongodb.Store
	openMongo := func() (*mongodb.Store, error) {
		if mongoStore != nil {
			return mongoStore, nil
		}
		store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB, retention)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		mongoStore = store
		b.closers = append(b.closers, store.Close)
		return store, nil
	}

	switch Type(cfg.Storage.Type) {
	case TypeMemory, "":
		b.accounts = memory.NewStore()
	case TypeMongoDB:
		store, err := openMongo()
		if err != nil {
			return nil, err
		}
		b.accounts = store
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch Type(cfg.EffectiveVerificationStore()) {
	case TypeMemory, "":
		if store, ok := b.accounts.(*memory.Store); ok {
			b.verification = store
		} else {
			b.verification = memory.NewStore()
		}
	case TypeMongoDB:
		store, err := openMongo()
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.verification = store
	case TypeRedis:
		store, err := redisstore.NewStore(&cfg.VerificationStore.Redis, retention, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to create Redis verification store: %w", err)
		}
		b.verification = store
		b.closers = append(b.closers, store.Close)
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unsupported verification store type: %s", cfg.VerificationStore.Type)
	}

	logger.Info("Storage backend ready",
		zap.String("accounts", cfg.Storage.Type),
		zap.String("verification", cfg.EffectiveVerificationStore()))

	return b, nil
}

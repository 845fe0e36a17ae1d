package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
)

// Store implements MongoDB storage for accounts and, optionally, for
// challenges and reset authorizations.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	cfg      *config.MongoDBConfig

	accounts       *AccountStore
	challenges     *ChallengeStore
	authorizations *AuthorizationStore
}

// NewStore creates a new MongoDB store. Expired challenges and authorizations
// are purged by a TTL index once they are older than retention.
func NewStore(ctx context.Context, cfg *config.MongoDBConfig, retention time.Duration) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)

	s := &Store{
		client:   client,
		database: database,
		cfg:      cfg,
	}

	s.accounts = &AccountStore{collection: database.Collection("accounts")}
	s.challenges = &ChallengeStore{collection: database.Collection("otp_challenges"), retention: retention}
	s.authorizations = &AuthorizationStore{collection: database.Collection("reset_authorizations"), retention: retention}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.accounts.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create account indexes: %w", err)
	}

	// purge_at already includes the retention grace, so the TTL monitor
	// never removes an entry that reads could still report as expired.
	_, err = s.challenges.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "purge_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create challenge indexes: %w", err)
	}

	_, err = s.authorizations.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "purge_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create authorization indexes: %w", err)
	}

	return nil
}

func (s *Store) Accounts() storage.AccountStore             { return s.accounts }
func (s *Store) Challenges() storage.ChallengeStore         { return s.challenges }
func (s *Store) Authorizations() storage.AuthorizationStore { return s.authorizations }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

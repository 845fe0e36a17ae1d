package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/storage"
)

// AccountStore implements MongoDB account storage
type AccountStore struct {
	collection *mongo.Collection
}

func (s *AccountStore) Create(ctx context.Context, account *domain.Account) error {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := s.collection.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *AccountStore) GetByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"_id.id": id.String()})
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *AccountStore) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var account domain.Account
	err := s.collection.FindOne(ctx, filter).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id domain.AccountID, hash string) error {
	return s.set(ctx, id, bson.M{"password_hash": hash})
}

func (s *AccountStore) MarkEmailVerified(ctx context.Context, id domain.AccountID) error {
	return s.set(ctx, id, bson.M{"email_verified": true})
}

func (s *AccountStore) set(ctx context.Context, id domain.AccountID, fields bson.M) error {
	fields["updated_at"] = time.Now()
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id.id": id.String()}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/storage"
)

// maxUpdateRetries bounds optimistic concurrency retries in Update.
const maxUpdateRetries = 5

type challengeDocument struct {
	ID               string `bson:"_id"`
	domain.Challenge `bson:",inline"`
	PurgeAt          time.Time `bson:"purge_at"`
}

// ChallengeStore implements MongoDB challenge storage. Each document carries
// a version that is bumped on every write; Update only applies its decision
// when the version it read is still current.
type ChallengeStore struct {
	collection *mongo.Collection
	retention  time.Duration
}

func (s *ChallengeStore) Put(ctx context.Context, challenge *domain.Challenge) error {
	update := bson.M{
		"$set": bson.M{
			"identity":   challenge.Identity,
			"purpose":    challenge.Purpose,
			"code":       challenge.Code,
			"attempts":   challenge.Attempts,
			"created_at": challenge.CreatedAt,
			"expires_at": challenge.ExpiresAt,
			"purge_at":   challenge.ExpiresAt.Add(s.retention),
		},
		"$inc": bson.M{"version": 1},
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": challenge.Key().String()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, key domain.ChallengeKey) (*domain.Challenge, error) {
	var doc challengeDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &doc.Challenge, nil
}

func (s *ChallengeStore) Update(ctx context.Context, key domain.ChallengeKey, fn storage.ChallengeFunc) error {
	id := key.String()

	for i := 0; i < maxUpdateRetries; i++ {
		current, err := s.Get(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		mutation, err := fn(current)
		if err != nil {
			return err
		}

		switch mutation {
		case storage.ChallengeKeep:
			return nil

		case storage.ChallengeSave:
			if current == nil {
				return storage.ErrInvalidInput
			}
			read := current.Version
			current.Version++
			doc := challengeDocument{ID: id, Challenge: *current, PurgeAt: current.ExpiresAt.Add(s.retention)}
			result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": read}, doc)
			if err != nil {
				return fmt.Errorf("failed to update challenge: %w", err)
			}
			if result.MatchedCount == 1 {
				return nil
			}

		case storage.ChallengeDelete:
			if current == nil {
				return nil
			}
			result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "version": current.Version})
			if err != nil {
				return fmt.Errorf("failed to delete challenge: %w", err)
			}
			if result.DeletedCount == 1 {
				return nil
			}
		}
	}

	return storage.ErrConflict
}

func (s *ChallengeStore) Delete(ctx context.Context, key domain.ChallengeKey) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key.String()})
	if err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return result.DeletedCount, nil
}

type authorizationDocument struct {
	domain.ResetAuthorization `bson:",inline"`
	PurgeAt                   time.Time `bson:"purge_at"`
}

// AuthorizationStore implements MongoDB reset authorization storage
type AuthorizationStore struct {
	collection *mongo.Collection
	retention  time.Duration
}

func (s *AuthorizationStore) Put(ctx context.Context, auth *domain.ResetAuthorization) error {
	doc := authorizationDocument{ResetAuthorization: *auth, PurgeAt: auth.ExpiresAt.Add(s.retention)}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": auth.Identity}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store reset authorization: %w", err)
	}
	return nil
}

func (s *AuthorizationStore) Get(ctx context.Context, identity string) (*domain.ResetAuthorization, error) {
	var doc authorizationDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": identity}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reset authorization: %w", err)
	}
	return &doc.ResetAuthorization, nil
}

func (s *AuthorizationStore) Take(ctx context.Context, identity string) (*domain.ResetAuthorization, error) {
	var doc authorizationDocument
	err := s.collection.FindOneAndDelete(ctx, bson.M{"_id": identity}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to take reset authorization: %w", err)
	}
	return &doc.ResetAuthorization, nil
}

func (s *AuthorizationStore) Revoke(ctx context.Context, auth *domain.ResetAuthorization) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": auth.Identity, "auth_id": auth.ID})
	if err != nil {
		return fmt.Errorf("failed to revoke reset authorization: %w", err)
	}
	return nil
}

func (s *AuthorizationStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset authorizations: %w", err)
	}
	return result.DeletedCount, nil
}

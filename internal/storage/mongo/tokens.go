package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
)

type refreshDoc struct {
	ID        string    `bson:"_id"`
	UserID    *string   `bson:"user_id"`
	TokenHash string    `bson:"token_hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
	Revoked   bool      `bson:"revoked"`
}

type resetDoc struct {
	UserID    string    `bson:"user_id"`
	TokenHash string    `bson:"token_hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// SaveRefreshToken добавляет запись реестра.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.mongo.SaveRefreshToken"

	doc := refreshDoc{
		ID:        token.ID.String(),
		TokenHash: token.TokenHash,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
		Revoked:   token.Revoked,
	}
	if token.UserID.Valid {
		uid := token.UserID.UUID.String()
		doc.UserID = &uid
	}

	if _, err := s.refresh.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит запись по хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.mongo.RefreshTokenByHash"

	var doc refreshDoc
	if err := s.refresh.FindOne(ctx, bson.M{"token_hash": hash}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := &models.RefreshToken{
		ID:        id,
		TokenHash: doc.TokenHash,
		ExpiresAt: doc.ExpiresAt.UTC(),
		CreatedAt: doc.CreatedAt.UTC(),
		Revoked:   doc.Revoked,
	}
	if doc.UserID != nil {
		uid, err := uuid.Parse(*doc.UserID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out.UserID = uuid.NullUUID{UUID: uid, Valid: true}
	}

	return out, nil
}

// RevokeRefreshToken помечает запись отозванной.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string) (bool, error) {
	const op = "storage.mongo.RevokeRefreshToken"

	res, err := s.refresh.UpdateOne(ctx,
		bson.M{"token_hash": hash, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	n, err := s.refresh.CountDocuments(ctx, bson.M{"token_hash": hash})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return false, nil
}

// DeleteExpiredRefreshTokens удаляет записи с expires_at <= before.
func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.mongo.DeleteExpiredRefreshTokens"

	res, err := s.refresh.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.DeletedCount, nil
}

// UpsertResetToken перезаписывает запись пользователя или создаёт новую.
func (s *Storage) UpsertResetToken(ctx context.Context, token *models.ResetToken) error {
	const op = "storage.mongo.UpsertResetToken"

	_, err := s.reset.UpdateOne(ctx,
		bson.M{"user_id": token.UserID.String()},
		bson.M{"$set": bson.M{
			"token_hash": token.TokenHash,
			"expires_at": token.ExpiresAt,
			"updated_at": token.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetTokenByHash находит запись по хэшу.
func (s *Storage) ResetTokenByHash(ctx context.Context, hash string) (*models.ResetToken, error) {
	const op = "storage.mongo.ResetTokenByHash"

	var doc resetDoc
	if err := s.reset.FindOne(ctx, bson.M{"token_hash": hash}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.ResetToken{
		UserID:    uid,
		TokenHash: doc.TokenHash,
		ExpiresAt: doc.ExpiresAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

// DeleteResetToken удаляет запись пользователя.
func (s *Storage) DeleteResetToken(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.mongo.DeleteResetToken"

	if _, err := s.reset.DeleteOne(ctx, bson.M{"user_id": userID.String()}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpiredResetTokens удаляет записи с expires_at <= before.
func (s *Storage) DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.mongo.DeleteExpiredResetTokens"

	res, err := s.reset.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.DeletedCount, nil
}

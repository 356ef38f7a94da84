package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	FirstName    string    `bson:"first_name"`
	LastName     string    `bson:"last_name"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	IsActive     bool      `bson:"is_active"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d *userDoc) model() (*models.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           id,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		IsActive:     d.IsActive,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

// SaveUser создаёт пользователя.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.mongo.SaveUser"

	doc := userDoc{
		ID:           user.ID.String(),
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Username:     fold(user.Username),
		Email:        fold(user.Email),
		PasswordHash: user.PasswordHash,
		IsActive:     user.IsActive,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return doc.model()
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.mongo.UserByID"

	u, err := s.findUser(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByIdentifier ищет по email или username.
func (s *Storage) UserByIdentifier(ctx context.Context, ident string) (*models.User, error) {
	const op = "storage.mongo.UserByIdentifier"

	u, err := s.UserByEmailOrUsername(ctx, ident, ident)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByEmailOrUsername — один запрос с $or.
func (s *Storage) UserByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	const op = "storage.mongo.UserByEmailOrUsername"

	filter := bson.M{"$or": bson.A{
		bson.M{"email": fold(email)},
		bson.M{"username": fold(username)},
	}}

	u, err := s.findUser(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UpdatePassword заменяет хэш пароля.
func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	const op = "storage.mongo.UpdatePassword"

	res, err := s.users.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{
		"password_hash": hash,
		"updated_at":    updatedAt,
	}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

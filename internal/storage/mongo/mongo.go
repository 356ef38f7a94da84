// mongo — реализация storage.Storage поверх MongoDB.
// Коллекции: users, refreshtokens, userotps. Уникальность обеспечивают индексы
// (ensureIndexes), email и username хранятся в нижнем регистре.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pribylovaa/go-auth-sessions/internal/storage"
)

const (
	usersCollection   = "users"
	refreshCollection = "refreshtokens"
	resetCollection   = "userotps"
	defaultDBName     = "auth"
)

// Storage — адаптер MongoDB.
type Storage struct {
	client  *mongodriver.Client
	db      *mongodriver.Database
	users   *mongodriver.Collection
	refresh *mongodriver.Collection
	reset   *mongodriver.Collection
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, uri string) (*Storage, error) {
	const op = "storage.mongo.New"

	if uri == "" {
		return nil, fmt.Errorf("%s: empty uri", op)
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := cli.Database(databaseFromURI(uri))
	s := &Storage{
		client:  cli,
		db:      db,
		users:   db.Collection(usersCollection),
		refresh: db.Collection(refreshCollection),
		reset:   db.Collection(resetCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

// ensureIndexes создаёт индексы:
//   - users: уникальные email и username;
//   - refreshtokens: уникальный token_hash, user_id, expires_at;
//   - userotps: уникальные user_id и token_hash, expires_at.
func (s *Storage) ensureIndexes(ctx context.Context) error {
	sets := []struct {
		coll   *mongodriver.Collection
		models []mongodriver.IndexModel
	}{
		{s.users, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName("email_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetName("username_unique").SetUnique(true)},
		}},
		{s.refresh, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetName("token_hash_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("user_id")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetName("expires_at")},
		}},
		{s.reset, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetName("user_id_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetName("token_hash_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetName("expires_at")},
		}},
	}

	for _, set := range sets {
		if _, err := set.coll.Indexes().CreateMany(ctx, set.models); err != nil {
			return fmt.Errorf("ensure indexes %s: %w", set.coll.Name(), err)
		}
	}

	return nil
}

// Ping проверяет доступность primary.
func (s *Storage) Ping(ctx context.Context) error {
	const op = "storage.mongo.Ping"

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close отключает клиента.
func (s *Storage) Close() {
	_ = s.client.Disconnect(context.Background())
}

// databaseFromURI извлекает имя базы данных из пути URI.
// Если оно отсутствует, возвращает значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)

// cache — read-through кэш реестра refresh-токенов в Redis.
// Кэш не источник истины: при ошибке чтения вызывающая сторона идёт
// в хранилище. Исключение — отзыв при выходе, его ошибка возвращается.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
)

// RefreshEntry описывает данные, которые хранятся в Redis по хэшу refresh-токена.
type RefreshEntry struct {
	UserID    uuid.NullUUID
	Revoked   bool
	ExpiresAt time.Time
}

// EntryFromToken строит запись кэша по записи реестра.
func EntryFromToken(t *models.RefreshToken) *RefreshEntry {
	return &RefreshEntry{
		UserID:    t.UserID,
		Revoked:   t.Revoked,
		ExpiresAt: t.ExpiresAt,
	}
}

// Expired сообщает, истёк ли срок записи к моменту now (граница включительно).
func (e *RefreshEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RefreshCache — минимальный контракт кэша refresh-токенов.
type RefreshCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, hash string) (*RefreshEntry, bool, error)
	// Add кладёт запись с TTL, только если ключа ещё нет.
	Add(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error
	// Revoke безусловно записывает по ключу отозванную запись на ttl.
	Revoke(ctx context.Context, hash string, ttl time.Duration) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:rt:".
func NewRedisCache(ctx context.Context, redisURL, prefix string) (RefreshCache, error) {
	const op = "cache.NewRedisCache"

	if prefix == "" {
		prefix = "auth:rt:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(hash string) string { return c.prefix + hash }

// Get читает Redis Hash с полями uid ("" для служебных токенов), rev (0/1), exp (unix).
func (c *redisCache) Get(ctx context.Context, hash string) (*RefreshEntry, bool, error) {
	const op = "cache.Get"

	m, err := c.rdb.HGetAll(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	// Неполный хэш считаем промахом.
	if len(m) == 0 || m["exp"] == "" {
		return nil, false, nil
	}

	var uid uuid.NullUUID
	if raw := m["uid"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		uid = uuid.NullUUID{UUID: id, Valid: true}
	}

	expUnix, err := strconv.ParseInt(m["exp"], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	return &RefreshEntry{
		UserID:    uid,
		Revoked:   m["rev"] == "1",
		ExpiresAt: time.Unix(expUnix, 0).UTC(),
	}, true, nil
}

// addScript создаёт хэш с TTL (мс) только при отсутствии ключа.
// Уже записанный отзыв не перетирается живой записью.
var addScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "uid", ARGV[1], "rev", ARGV[2], "exp", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// Add записывает запись, если ключа нет. ttl <= 0 ничего не пишет.
func (c *redisCache) Add(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error {
	const op = "cache.Add"

	if ttl <= 0 {
		return nil
	}

	uid := ""
	if e.UserID.Valid {
		uid = e.UserID.UUID.String()
	}

	err := addScript.Run(ctx, c.rdb, []string{c.key(hash)},
		uid,
		boolTo01(e.Revoked),
		strconv.FormatInt(e.ExpiresAt.Unix(), 10),
		ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Revoke перезаписывает ключ отозванной записью (rev=1) одной транзакцией.
// Запись остаётся на ttl, чтобы параллельный Add не вернул живое состояние.
func (c *redisCache) Revoke(ctx context.Context, hash string, ttl time.Duration) error {
	const op = "cache.Revoke"

	if ttl <= 0 {
		ttl = time.Minute
	}

	kv := map[string]string{
		"uid": "",
		"rev": "1",
		"exp": strconv.FormatInt(time.Now().Add(ttl).Unix(), 10),
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.key(hash))
	pipe.HSet(ctx, c.key(hash), kv)
	pipe.Expire(ctx, c.key(hash), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *redisCache) Close() error { return c.rdb.Close() }

func boolTo01(b bool) string {
	if b {
		return "1"
	}

	return "0"
}

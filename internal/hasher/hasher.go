// hasher реализует хэширование паролей argon2id в формате PHC
// ($argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>) и проверку,
// в том числе для унаследованных bcrypt-хэшей.
//
// Хэширование требует много памяти и CPU, поэтому число одновременных
// вычислений ограничено семафором; ожидание слота прерывается отменой контекста.
package hasher

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
)

// ErrHashing — хэш не удалось вычислить (нет слота до отмены контекста, сбой rand).
var ErrHashing = errors.New("password hashing failed")

// Params — параметры argon2id.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher безопасен для конкурентного использования.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
}

// New создаёт Hasher по конфигурации.
func New(cfg config.HasherConfig) *Hasher {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	p := Params{
		Memory:      cfg.Memory,
		Iterations:  cfg.Iterations,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	}
	if p.Memory == 0 {
		p.Memory = 64 * 1024
	}
	if p.Iterations == 0 {
		p.Iterations = 1
	}
	if p.Parallelism == 0 {
		p.Parallelism = 4
	}
	if p.SaltLength == 0 {
		p.SaltLength = 16
	}
	if p.KeyLength == 0 {
		p.KeyLength = 32
	}

	return &Hasher{
		params: p,
		sem:    semaphore.NewWeighted(int64(limit)),
	}
}

// Hash возвращает PHC-строку argon2id с новой случайной солью.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	const op = "hasher.Hash"

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrHashing, err)
	}
	defer h.sem.Release(1)

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrHashing, err)
	}

	start := time.Now()
	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	metrics.PasswordHashSeconds.WithLabelValues("hash").Observe(time.Since(start).Seconds())

	return encode(h.params, salt, key), nil
}

// Verify сравнивает пароль с сохранённым хэшем за постоянное время.
// Несовпадение и некорректный формат хэша дают (false, nil);
// ошибка возвращается только если не удалось получить слот семафора.
func (h *Hasher) Verify(ctx context.Context, plain, encoded string) (bool, error) {
	const op = "hasher.Verify"

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, ErrHashing, err)
	}
	defer h.sem.Release(1)

	start := time.Now()
	defer func() {
		metrics.PasswordHashSeconds.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	}()

	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain)) == nil, nil
	}

	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, nil
	}

	other := argon2.IDKey([]byte(plain), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// NeedsRehash сообщает, что хэш получен bcrypt или с другими параметрами.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}

	p, salt, key, err := decode(encoded)
	if err != nil {
		return true
	}

	return p.Memory != h.params.Memory ||
		p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism ||
		uint32(len(salt)) != h.params.SaltLength ||
		uint32(len(key)) != h.params.KeyLength
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func encode(p Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

var errMalformed = errors.New("malformed argon2id hash")

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, errMalformed
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, errMalformed
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, errMalformed
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, errMalformed
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, errMalformed
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, errMalformed
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))

	return p, salt, key, nil
}

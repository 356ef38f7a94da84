// token выпускает и проверяет подписанные JWT (HS256) для трёх назначений:
// access, refresh и reset. У каждого назначения свой секрет и свой claim typ,
// поэтому токен одного назначения никогда не проходит проверку другого.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
)

// Purpose — назначение токена.
type Purpose string

const (
	Access  Purpose = "access"
	Refresh Purpose = "refresh"
	Reset   Purpose = "reset"
)

var (
	// ErrTokenInvalid — подпись, формат, назначение или издатель не сходятся.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired — срок действия истёк. Оборачивает ErrTokenInvalid.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)
	// ErrUnknownPurpose — назначение не сконфигурировано.
	ErrUnknownPurpose = errors.New("unknown token purpose")
)

// Claims — полезная нагрузка токена.
type Claims struct {
	UserID uuid.UUID
	// Email заполняется только в access-токенах.
	Email     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	UserID  string  `json:"uid"`
	Email   string  `json:"email,omitempty"`
	Purpose Purpose `json:"typ"`
	jwt.RegisteredClaims
}

// Signer безопасен для конкурентного использования.
type Signer struct {
	secrets map[Purpose][]byte
	issuer  string
	now     func() time.Time
}

// New строит таблицу секретов по назначениям.
func New(cfg config.AuthConfig) (*Signer, error) {
	const op = "token.New"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Signer{
		secrets: map[Purpose][]byte{
			Access:  []byte(cfg.AccessTokenSecret),
			Refresh: []byte(cfg.RefreshTokenSecret),
			Reset:   []byte(cfg.ResetPasswordTokenSecret),
		},
		issuer: cfg.Issuer,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue подписывает токен назначения purpose со сроком жизни ttl.
// Каждый токен получает уникальный jti, поэтому два выпуска в одну секунду различаются.
func (s *Signer) Issue(purpose Purpose, c Claims, ttl time.Duration) (string, time.Time, error) {
	const op = "token.Issue"

	secret, ok := s.secrets[purpose]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%s: %s: %w", op, purpose, ErrUnknownPurpose)
	}

	now := s.now()
	exp := now.Add(ttl)

	claims := jwtClaims{
		UserID:  c.UserID.String(),
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   c.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if purpose == Access {
		claims.Email = c.Email
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	// Точность NumericDate — секунды.
	return signed, exp.Truncate(time.Second), nil
}

// Verify проверяет подпись секретом назначения, алгоритм, издателя, typ и срок.
func (s *Signer) Verify(purpose Purpose, raw string) (*Claims, error) {
	const op = "token.Verify"

	secret, ok := s.secrets[purpose]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, purpose, ErrUnknownPurpose)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims jwtClaims
	tok, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenInvalid, err)
	}

	if !tok.Valid || claims.Purpose != purpose {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	out := &Claims{
		UserID: uid,
		Email:  claims.Email,
		ID:     claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}

	return out, nil
}

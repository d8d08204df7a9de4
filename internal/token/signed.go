package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignedCodec はbase58トークンをHS256署名付きJWTで包むCodec。
// 発行時刻と有効期限をトークン自体に埋め込むため、改ざんと期限切れを区別できる。
type SignedCodec struct {
	inner *Base58Codec
	key   []byte
	ttl   time.Duration
	now   func() time.Time
}

// NewSignedCodec はSignedCodecを生成する。
func NewSignedCodec(key []byte, ttl time.Duration) (*SignedCodec, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &SignedCodec{
		inner: NewBase58Codec(),
		key:   key,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// Encode はウォレットアドレスを署名付きトークンに変換する。
func (c *SignedCodec) Encode(wallet string) (string, error) {
	subject, err := c.inner.Encode(wallet)
	if err != nil {
		return "", err
	}

	issuedAt := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Decode は署名と有効期限を検証し、ウォレットアドレスを復元する。
func (c *SignedCodec) Decode(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !parsed.Valid {
		return "", ErrMalformed
	}

	return c.inner.Decode(claims.Subject)
}

// compile-time interface check
var _ Codec = (*SignedCodec)(nil)

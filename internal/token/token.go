// Package token はウォレットアドレスとクライアント保持トークンの相互変換を提供する。
// トークンは暗号化ではなく、Cookieに格納するための可逆な文字列表現である。
package token

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/hitoshi/waitlist/internal/credential"
)

var (
	// ErrMalformed はトークンがデコードできないことを表す。
	ErrMalformed = errors.New("malformed session token")
	// ErrExpired は署名付きトークンの有効期限切れを表す。
	ErrExpired = errors.New("session token expired")
)

// Codec はウォレットアドレスとトークン文字列を相互変換するインターフェース。
type Codec interface {
	// Encode はウォレットアドレスをトークン文字列に変換する。
	Encode(wallet string) (string, error)
	// Decode はトークン文字列からウォレットアドレスを復元する。
	// 不正なトークンの場合はErrMalformedまたはErrExpiredを返す。
	Decode(token string) (string, error)
}

// Base58Codec はウォレットアドレスのUTF-8バイト列をbase58で再エンコードするCodec。
// 決定的かつ可逆で、有効期限はCookie側のMax-Ageで管理する。
type Base58Codec struct{}

// NewBase58Codec はBase58Codecを生成する。
func NewBase58Codec() *Base58Codec {
	return &Base58Codec{}
}

// Encode はウォレットアドレスをbase58トークンに変換する。
func (c *Base58Codec) Encode(wallet string) (string, error) {
	if wallet == "" {
		return "", fmt.Errorf("wallet is required")
	}
	return base58.Encode([]byte(wallet)), nil
}

// Decode はbase58トークンからウォレットアドレスを復元する。
func (c *Base58Codec) Decode(token string) (string, error) {
	if token == "" {
		return "", ErrMalformed
	}
	raw, err := credential.DecodeBase58(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: not valid utf-8", ErrMalformed)
	}
	return string(raw), nil
}

// compile-time interface check
var _ Codec = (*Base58Codec)(nil)

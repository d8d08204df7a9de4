// Package credential はウォレットアドレスと秘密鍵文字列の形式検証を提供する。
// base58デコード後のバイト長のみを検証し、署名検証や公開鍵導出は行わない。
package credential

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// ErrInvalidBase58 はbase58としてデコードできない文字列を表す。
var ErrInvalidBase58 = errors.New("invalid base58 string")

// 受理するデコード後のバイト長
var (
	identityLengths = []int{32, 44}
	secretLengths   = []int{32, 64}
)

// DecodeBase58 はbase58文字列をバイト列にデコードする。
// 空文字列は長さ0のバイト列として成功扱いにする。
// アルファベット外の文字を含む場合はErrInvalidBase58を返す。
func DecodeBase58(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	// base58.Decodeは不正な入力に対して空スライスを返す。
	// 有効な非空文字列は必ず1バイト以上にデコードされる。
	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return nil, ErrInvalidBase58
	}
	return decoded, nil
}

// IsWellFormedIdentity はウォレットアドレスの形式を検証する。
// デコードに成功し、かつ32バイトまたは44バイトの場合のみtrueを返す。
func IsWellFormedIdentity(s string) bool {
	return decodesToLength(s, identityLengths)
}

// IsWellFormedSecret は秘密鍵文字列の形式を検証する。
// デコードに成功し、かつ32バイトまたは64バイトの場合のみtrueを返す。
func IsWellFormedSecret(s string) bool {
	return decodesToLength(s, secretLengths)
}

// Validate はウォレットアドレスと秘密鍵の両方が形式を満たすかを返す。
// 副作用を持たず、secretを保持・出力しない。
func Validate(identity, secret string) bool {
	return IsWellFormedIdentity(identity) && IsWellFormedSecret(secret)
}

func decodesToLength(s string, lengths []int) bool {
	decoded, err := DecodeBase58(s)
	if err != nil {
		return false
	}
	for _, l := range lengths {
		if len(decoded) == l {
			return true
		}
	}
	return false
}

package credential

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// encodedOfLength はn バイトのデータをbase58エンコードした文字列を返す。
func encodedOfLength(n int) string {
	return base58.Encode(bytes.Repeat([]byte{0x5a}, n))
}

func TestDecodeBase58_EmptyString_ReturnsZeroLength(t *testing.T) {
	decoded, err := DecodeBase58("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("len = %d, want 0", len(decoded))
	}
}

func TestDecodeBase58_InvalidAlphabet_ReturnsError(t *testing.T) {
	for _, s := range []string{"???", "0OIl", "abc!", "ウォレット"} {
		t.Run(s, func(t *testing.T) {
			if _, err := DecodeBase58(s); err == nil {
				t.Errorf("DecodeBase58(%q) expected error", s)
			}
		})
	}
}

func TestDecodeBase58_LeadingOnesBecomeZeroBytes(t *testing.T) {
	decoded, err := DecodeBase58(strings.Repeat("1", 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded, make([]byte, 32)) {
		t.Errorf("decoded = %x, want 32 zero bytes", decoded)
	}
}

func TestIsWellFormedIdentity(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"32 bytes", encodedOfLength(32), true},
		{"44 bytes", encodedOfLength(44), true},
		{"31 bytes", encodedOfLength(31), false},
		{"33 bytes", encodedOfLength(33), false},
		{"64 bytes", encodedOfLength(64), false},
		{"empty", "", false},
		{"invalid alphabet", "???", false},
		{"all ones", strings.Repeat("1", 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWellFormedIdentity(tt.input); got != tt.want {
				t.Errorf("IsWellFormedIdentity(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsWellFormedSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"32 bytes", encodedOfLength(32), true},
		{"64 bytes", encodedOfLength(64), true},
		{"44 bytes", encodedOfLength(44), false},
		{"63 bytes", encodedOfLength(63), false},
		{"empty", "", false},
		{"invalid alphabet", "not-base58!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWellFormedSecret(tt.input); got != tt.want {
				t.Errorf("IsWellFormedSecret(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidate_RequiresBoth(t *testing.T) {
	wallet := encodedOfLength(32)
	key := encodedOfLength(64)

	if !Validate(wallet, key) {
		t.Error("expected valid wallet and key to pass")
	}
	if Validate("???", key) {
		t.Error("expected invalid wallet to fail")
	}
	if Validate(wallet, "???") {
		t.Error("expected invalid key to fail")
	}
	if Validate(key, wallet) {
		t.Error("expected 64-byte wallet to fail")
	}
}

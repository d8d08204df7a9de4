package token

import (
	"errors"
	"testing"
)

func TestBase58Codec_RoundTrip(t *testing.T) {
	codec := NewBase58Codec()

	wallets := []string{
		"7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV",
		"11111111111111111111111111111111",
		"a",
		"ウォレット",
	}

	for _, w := range wallets {
		t.Run(w, func(t *testing.T) {
			tok, err := codec.Encode(w)
			if err != nil {
				t.Fatalf("Encode returned error: %v", err)
			}
			got, err := codec.Decode(tok)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if got != w {
				t.Errorf("Decode(Encode(%q)) = %q", w, got)
			}
		})
	}
}

func TestBase58Codec_EncodeIsDeterministic(t *testing.T) {
	codec := NewBase58Codec()
	a, _ := codec.Encode("WalletA")
	b, _ := codec.Encode("WalletA")
	if a != b {
		t.Errorf("Encode is not deterministic: %q != %q", a, b)
	}
}

func TestBase58Codec_EncodeEmpty_ReturnsError(t *testing.T) {
	if _, err := NewBase58Codec().Encode(""); err == nil {
		t.Fatal("expected error for empty wallet")
	}
}

func TestBase58Codec_Decode_Malformed(t *testing.T) {
	codec := NewBase58Codec()

	for _, tok := range []string{"", "???", "0000", "abc def", "Zm9vYmFy=="} {
		t.Run(tok, func(t *testing.T) {
			_, err := codec.Decode(tok)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tok, err)
			}
		})
	}
}

func TestBase58Codec_Decode_InvalidUTF8(t *testing.T) {
	codec := NewBase58Codec()
	// "5Q" は単一バイト0xff にデコードされる
	_, err := codec.Decode("5Q")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

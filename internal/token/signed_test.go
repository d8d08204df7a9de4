package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSignedCodec_RequiresKeyAndTTL(t *testing.T) {
	if _, err := NewSignedCodec(nil, time.Hour); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewSignedCodec([]byte("k"), 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestSignedCodec_RoundTrip(t *testing.T) {
	codec, err := NewSignedCodec([]byte("test-signing-key"), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NewSignedCodec returned error: %v", err)
	}

	tok, err := codec.Encode("WalletA")
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Errorf("token %q is not a JWT", tok)
	}

	got, err := codec.Decode(tok)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got != "WalletA" {
		t.Errorf("Decode = %q, want %q", got, "WalletA")
	}
}

func TestSignedCodec_Decode_Expired(t *testing.T) {
	codec, _ := NewSignedCodec([]byte("test-signing-key"), time.Hour)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return issued }

	tok, err := codec.Encode("WalletA")
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	codec.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = codec.Decode(tok)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("error = %v, want ErrExpired", err)
	}
}

func TestSignedCodec_Decode_WrongKey(t *testing.T) {
	issuer, _ := NewSignedCodec([]byte("key-a"), time.Hour)
	verifier, _ := NewSignedCodec([]byte("key-b"), time.Hour)

	tok, _ := issuer.Encode("WalletA")
	_, err := verifier.Decode(tok)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

func TestSignedCodec_Decode_RejectsPlainBase58(t *testing.T) {
	codec, _ := NewSignedCodec([]byte("key"), time.Hour)
	plain, _ := NewBase58Codec().Encode("WalletA")

	_, err := codec.Decode(plain)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

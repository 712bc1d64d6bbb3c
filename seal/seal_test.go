package seal

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen(t *testing.T) {
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, msg := range [][]byte{{}, []byte("x"), bytes.Repeat([]byte("payload"), 500)} {
		sealed, err := b.Seal(msg)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if len(sealed) != len(msg)+Overhead {
			t.Fatalf("sealed length = %d, want %d", len(sealed), len(msg)+Overhead)
		}
		got, err := b.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip mismatch")
		}
	}
}

func TestNonceIsRandomPerCall(t *testing.T) {
	b, _ := Generate()
	a1, _ := b.Seal([]byte("same"))
	a2, _ := b.Seal([]byte("same"))
	if bytes.Equal(a1[:NonceSize], a2[:NonceSize]) {
		t.Fatalf("nonce reused")
	}
	if bytes.Equal(a1, a2) {
		t.Fatalf("identical ciphertexts for identical plaintexts")
	}
}

func TestTamperAndWrongKey(t *testing.T) {
	b, _ := Generate()
	sealed, _ := b.Seal([]byte("secret profile"))

	for i := range sealed {
		flipped := append([]byte(nil), sealed...)
		flipped[i] ^= 0x01
		if _, err := b.Open(flipped); !errors.Is(err, ErrOpen) {
			t.Fatalf("flip at %d: expected ErrOpen, got %v", i, err)
		}
	}
	if _, err := b.Open(sealed[:Overhead-1]); !errors.Is(err, ErrOpen) {
		t.Fatalf("truncated: expected ErrOpen, got %v", err)
	}

	other, _ := Generate()
	if _, err := other.Open(sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("a new process key must not open old records, got %v", err)
	}
}

func TestFromSecretIsStable(t *testing.T) {
	a, err := FromSecret([]byte("correct horse"), []byte("salt"))
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	b, _ := FromSecret([]byte("correct horse"), []byte("salt"))
	sealed, _ := a.Seal([]byte("hello"))
	if got, err := b.Open(sealed); err != nil || string(got) != "hello" {
		t.Fatalf("same secret must open: %v", err)
	}
	c, _ := FromSecret([]byte("correct horse"), []byte("pepper"))
	if _, err := c.Open(sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("different salt must not open")
	}
	if _, err := FromSecret(nil, nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestGenerateFailure(t *testing.T) {
	orig := randReadFunc
	defer func() { randReadFunc = orig }()
	randReadFunc = func([]byte) (int, error) { return 0, errors.New("no entropy") }
	if _, err := Generate(); err == nil {
		t.Fatalf("expected error when the random source fails")
	}
}

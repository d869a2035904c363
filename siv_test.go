package vaultfs

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func newTestSIV(t *testing.T) *sivCipher {
	t.Helper()
	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	siv, err := newSIV(key[:32], key[32:])
	if err != nil {
		t.Fatalf("Failed to create SIV cipher: %v", err)
	}
	return siv
}

// RFC 5297, appendix A.1
func TestSIV_RFC5297Vector(t *testing.T) {
	key := mustHex(t, "fffefdfcfbfaf9f8f7f6f5f4f3f2f1f0f0f1f2f3f4f5f6f7f8f9fafbfcfdfeff")
	ad := mustHex(t, "101112131415161718191a1b1c1d1e1f2021222324252627")
	plaintext := mustHex(t, "112233445566778899aabbccddee")
	want := mustHex(t, "85632d07c6e8f37f950acd320a2ecc9340c02b9690c4dc04daef7f6afe5c")

	siv, err := newSIV(key[:16], key[16:])
	if err != nil {
		t.Fatalf("newSIV failed: %v", err)
	}

	got := siv.Seal(plaintext, ad)
	if !bytes.Equal(got, want) {
		t.Fatalf("Seal mismatch:\ngot:  %x\nwant: %x", got, want)
	}

	opened, err := siv.Open(got, ad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open mismatch: got %x, want %x", opened, plaintext)
	}
}

func TestSIV_RoundTrip(t *testing.T) {
	siv := newTestSIV(t)

	tests := []struct {
		name      string
		plaintext []byte
		ad        [][]byte
	}{
		{name: "simple text", plaintext: []byte("Hello, World!")},
		{name: "empty plaintext", plaintext: []byte("")},
		{name: "exactly one block", plaintext: []byte("0123456789abcdef")},
		{name: "with AD", plaintext: []byte("secret message"), ad: [][]byte{[]byte("context1"), []byte("context2")}},
		{name: "empty AD", plaintext: []byte("name"), ad: [][]byte{{}}},
		{name: "long plaintext", plaintext: bytes.Repeat([]byte("A"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed := siv.Seal(tt.plaintext, tt.ad...)
			if len(sealed) != len(tt.plaintext)+sivTagSize {
				t.Errorf("Sealed length: got %d, want %d", len(sealed), len(tt.plaintext)+sivTagSize)
			}

			opened, err := siv.Open(sealed, tt.ad...)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(opened, tt.plaintext) {
				t.Errorf("Decrypted plaintext doesn't match:\ngot:  %q\nwant: %q", opened, tt.plaintext)
			}
		})
	}
}

func TestSIV_Deterministic(t *testing.T) {
	siv := newTestSIV(t)
	first := siv.Seal([]byte("deterministic test"), []byte("dir"))
	second := siv.Seal([]byte("deterministic test"), []byte("dir"))
	if !bytes.Equal(first, second) {
		t.Errorf("SIV is not deterministic:\nfirst:  %x\nsecond: %x", first, second)
	}
}

func TestSIV_Tampering(t *testing.T) {
	siv := newTestSIV(t)
	sealed := siv.Seal([]byte("secret message"), []byte("parent-a"))

	t.Run("associated data mismatch", func(t *testing.T) {
		if _, err := siv.Open(sealed, []byte("parent-b")); !errors.Is(err, ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0x01
		if _, err := siv.Open(tampered, []byte("parent-a")); !errors.Is(err, ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := siv.Open(sealed[:8]); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("expected ErrInvalidCiphertext, got %v", err)
		}
	})
}

func TestNewSIV_KeySizes(t *testing.T) {
	if _, err := newSIV(make([]byte, 32), make([]byte, 16)); err == nil {
		t.Error("expected error for keys of different size")
	}
	if _, err := newSIV(make([]byte, 7), make([]byte, 7)); err == nil {
		t.Error("expected error for invalid AES key size")
	}
}

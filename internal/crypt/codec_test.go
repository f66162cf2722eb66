package crypt

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blob, err := c.Encrypt("123456789")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob == "123456789" {
		t.Fatal("ciphertext equals plaintext")
	}
	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "123456789" {
		t.Fatalf("Decrypt = %q", got)
	}
}

func TestDecryptFailureIsDataUnavailable(t *testing.T) {
	t.Parallel()
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, blob := range []string{"not-base64!!", "c2hvcnQ=", strings.Repeat("A", 64)} {
		if _, err := c.Decrypt(blob); !errors.Is(err, ErrDataUnavailable) {
			t.Fatalf("Decrypt(%q) err = %v, want ErrDataUnavailable", blob, err)
		}
	}
}

func TestPassThrough(t *testing.T) {
	t.Parallel()
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Enabled() {
		t.Fatal("empty key should disable encryption")
	}
	blob, _ := c.Encrypt("x")
	if blob != "x" {
		t.Fatalf("pass-through Encrypt = %q", blob)
	}
}

func TestBadKey(t *testing.T) {
	t.Parallel()
	if _, err := New("zzzz"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
	if _, err := New("aabb"); err == nil {
		t.Fatal("expected error for short key")
	}
}

package util

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"testing"
)

func TestSeal(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpen", func(t *testing.T) {
		sealed, err := Seal(key, plainText, aad)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		opened, err := Open(key, sealed, aad)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(plainText, opened) {
			t.Errorf("expected %s, got %s", plainText, opened)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		sealed, _ := Seal(key, plainText, aad)
		if _, err := Open(key, sealed, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		sealed, _ := Seal(key, plainText, aad)
		sealed[len(sealed)-1] ^= 0xFF
		if _, err := Open(key, sealed, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("ShortInput", func(t *testing.T) {
		if _, err := Open(key, []byte{1, 2, 3}, aad); err == nil {
			t.Error("expected error for truncated input")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, err := Seal([]byte("too short"), plainText, aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey([]byte("secret"), nil, []byte("info-a"))
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, _ := DeriveKey([]byte("secret"), nil, []byte("info-a"))
	k3, _ := DeriveKey([]byte("secret"), nil, []byte("info-b"))
	if len(k1) != HKDFKeyLength {
		t.Fatalf("expected %d bytes, got %d", HKDFKeyLength, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same inputs should derive the same key")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different info should derive different keys")
	}
	if _, err := DeriveKey(nil, nil, []byte("info")); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken failed: %v", err)
	}
	b, _ := RandomToken(32)
	if a == b {
		t.Error("tokens should be unique")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("expected 32 bytes of entropy, got %d", len(raw))
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  abc  ":    "abc",
		"\tbob123\n": "bob123",
		"cafe\u0301": "caf\u00e9",
		"Alice":      "Alice",
		"   ":        "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
	if n := CharCount("caf\u00e9"); n != 4 {
		t.Errorf("CharCount = %d, want 4", n)
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("expected zeroed slice, got %v", b)
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate should cover localhost: %v", err)
	}
}

package service

import (
	"strings"
	"testing"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestGenerateSecretShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		s, err := GenerateSecret(nil)
		if err != nil {
			t.Fatalf("GenerateSecret: %v", err)
		}
		if !ValidSecretShape(s) {
			t.Fatalf("bad secret %q", s)
		}
	}
}

func TestGenerateSecretPatchesDegenerateSource(t *testing.T) {
	// A source that only ever yields zero picks 'a' for every position, so
	// the digit and hyphen classes must be patched in.
	s, err := GenerateSecret(zeroReader{})
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	want := "a0-" + strings.Repeat("a", SecretLength-3)
	if s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestValidSecretShape(t *testing.T) {
	tests := map[string]bool{
		"a0-" + strings.Repeat("b", 29): true,
		"A0-" + strings.Repeat("b", 29): false,
		"a0_" + strings.Repeat("b", 29): false,
		strings.Repeat("a", 32):         false,
		"a0-":                           false,
	}
	for in, want := range tests {
		if got := ValidSecretShape(in); got != want {
			t.Errorf("ValidSecretShape(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHashVerify(t *testing.T) {
	hash, err := HashSecret(nil, "abc-123")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("unexpected encoding %q", hash)
	}
	if !VerifySecret(hash, "abc-123") {
		t.Error("expected match")
	}
	if VerifySecret(hash, "ABC-123") {
		t.Error("comparison must be case-sensitive")
	}
	if VerifySecret("$argon2id$garbage", "abc-123") {
		t.Error("malformed hash must not match")
	}
}

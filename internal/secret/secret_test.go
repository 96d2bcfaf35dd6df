package secret

import (
	"strings"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	plaintext, digest, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(plaintext) != 2*TokenBytes {
		t.Fatalf("plaintext length = %d, want %d", len(plaintext), 2*TokenBytes)
	}
	if len(digest) != 64 {
		t.Fatalf("digest length = %d, want 64", len(digest))
	}
	if strings.ToLower(plaintext) != plaintext {
		t.Fatal("plaintext must be lowercase hex")
	}
	if Digest(plaintext) != digest {
		t.Fatal("digest does not match recomputed digest")
	}
}

func TestGenerateIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		plaintext, _, err := Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if seen[plaintext] {
			t.Fatal("duplicate token generated")
		}
		seen[plaintext] = true
	}
}

func TestVerify(t *testing.T) {
	plaintext, digest, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !Verify(plaintext, digest) {
		t.Fatal("correct plaintext rejected")
	}
	if Verify(plaintext+"0", digest) {
		t.Fatal("wrong plaintext accepted")
	}
	if Verify("", digest) {
		t.Fatal("empty candidate accepted")
	}
	if Verify(plaintext, "") {
		t.Fatal("empty digest accepted")
	}
	if Verify(plaintext, "not-hex") {
		t.Fatal("malformed digest accepted")
	}
	if Verify(plaintext, "abcd") {
		t.Fatal("truncated digest accepted")
	}
}

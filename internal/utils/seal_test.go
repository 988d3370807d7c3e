package utils

import (
	"strings"
	"testing"
)

func TestSealRoundTrip(t *testing.T) {
	s, err := NewSealer("machine-secret")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	sealed, err := s.Seal("api-token-abc123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "" || strings.Contains(sealed, "api-token") {
		t.Fatalf("sealed blob leaks plaintext: %q", sealed)
	}

	plain, err := s.Unseal(sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if plain != "api-token-abc123" {
		t.Errorf("round trip = %q", plain)
	}
}

func TestSealNoncesDiffer(t *testing.T) {
	s, _ := NewSealer("k")
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestUnsealWrongKeyFails(t *testing.T) {
	s1, _ := NewSealer("key-one")
	s2, _ := NewSealer("key-two")

	sealed, _ := s1.Seal("secret")
	if _, err := s2.Unseal(sealed); err == nil {
		t.Error("wrong key must fail authentication")
	}
}

func TestUnsealGarbage(t *testing.T) {
	s, _ := NewSealer("k")
	for _, input := range []string{"not-base64!!", "QUJD"} {
		if _, err := s.Unseal(input); err == nil {
			t.Errorf("Unseal(%q) should fail", input)
		}
	}
}

func TestSealEmptyPassthrough(t *testing.T) {
	s, _ := NewSealer("k")
	sealed, err := s.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("empty plaintext: %q, %v", sealed, err)
	}
	plain, err := s.Unseal("")
	if err != nil || plain != "" {
		t.Errorf("empty sealed: %q, %v", plain, err)
	}
}

func TestNewSealerRequiresSecret(t *testing.T) {
	if _, err := NewSealer(""); err != ErrSealKeyMissing {
		t.Errorf("err = %v", err)
	}
}

func TestSanitizeJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := SanitizeJSON(c.in); got != c.want {
			t.Errorf("SanitizeJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

package cryptoutil

import "testing"

func TestCreateS256CodeChallenge(t *testing.T) {
	// RFC 7636 appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := CreateS256CodeChallenge(verifier); got != want {
		t.Errorf("CreateS256CodeChallenge() = %q, want %q", got, want)
	}
}

func TestRandomValuesDiffer(t *testing.T) {
	a, err := CreateState()
	if err != nil {
		t.Fatalf("CreateState error: %v", err)
	}
	b, err := CreateState()
	if err != nil {
		t.Fatalf("CreateState error: %v", err)
	}
	if a == b {
		t.Error("expected two states to differ")
	}

	v, err := CreateCodeVerifier()
	if err != nil {
		t.Fatalf("CreateCodeVerifier error: %v", err)
	}
	if len(v) != 43 {
		t.Errorf("expected 43 char verifier, got %d", len(v))
	}
}

package auth

import "testing"

func TestJWTIssuer_IssueAndVerifyAccessToken(t *testing.T) {
	issuer := NewJWTIssuer("test-secret", 1, 24)
	tok, err := issuer.Issue("alice@example.com", AccessToken)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := issuer.Verify(tok, AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "alice@example.com" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestJWTIssuer_RejectsWrongTokenType(t *testing.T) {
	issuer := NewJWTIssuer("test-secret", 1, 24)
	tok, err := issuer.Issue("bob@example.com", RefreshToken)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(tok, AccessToken); err == nil {
		t.Fatalf("expected error verifying a refresh token as access")
	}
}

func TestJWTIssuer_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTIssuer("secret-a", 1, 24)
	other := NewJWTIssuer("secret-b", 1, 24)
	tok, err := issuer.Issue("carol@example.com", AccessToken)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := other.Verify(tok, AccessToken); err == nil {
		t.Fatalf("expected verification to fail with a different secret")
	}
}

func TestJWTIssuer_IssuePair(t *testing.T) {
	issuer := NewJWTIssuer("test-secret", 1, 24)
	access, refresh, err := issuer.IssuePair("dave@example.com")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	if _, err := issuer.Verify(access, AccessToken); err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if _, err := issuer.Verify(refresh, RefreshToken); err != nil {
		t.Fatalf("refresh token invalid: %v", err)
	}
}

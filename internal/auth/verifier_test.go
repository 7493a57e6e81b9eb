package auth

import "testing"

func TestIssueVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("user-42")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("Verify returned %q, want user-42", userID)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("test-secret")
	other := NewVerifier("other-secret")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong secret", mustIssue(t, other, "user-42")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); err == nil {
				t.Fatal("Verify accepted an invalid token")
			}
		})
	}
}

func mustIssue(t *testing.T, v *Verifier, userID string) string {
	t.Helper()
	token, err := v.Issue(userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

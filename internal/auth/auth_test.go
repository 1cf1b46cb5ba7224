package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer("test-secret", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return i
}

func TestIssueVerify(t *testing.T) {
	i := newTestIssuer(t)

	token, err := i.Issue("u-42", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := i.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u-42" || claims.Role != RoleStudent || claims.Issuer != DefaultIssuer {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_Rejects(t *testing.T) {
	i := newTestIssuer(t)

	other, _ := NewIssuer("other-secret", "", time.Hour)
	wrongSecret, _ := other.Issue("u1", "")

	foreign, _ := NewIssuer("test-secret", "someone-else", time.Hour)
	wrongIssuer, _ := foreign.Issue("u1", "")

	expired := newTestIssuer(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _ := expired.Issue("u1", "")

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer},
	}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expiredToken,
		"alg none":     none,
		"alg hs512":    hs512,
		"no expiry":    noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := i.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewIssuer("", "", 0); !errors.Is(err, ErrNoSecret) {
		t.Errorf("error = %v, want ErrNoSecret", err)
	}
}

func TestIssue_RequiresUser(t *testing.T) {
	if _, err := newTestIssuer(t).Issue("", RoleAdmin); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic dXNlcjpwYXNz", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := BearerToken(r)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("BearerToken(%q) = %q, %v", tt.header, got, err)
		}
	}
}

func TestContextClaims(t *testing.T) {
	ctx := context.Background()
	if UserID(ctx) != "" || FromContext(ctx) != nil {
		t.Error("empty context should be anonymous")
	}

	ctx = WithClaims(ctx, &Claims{UserID: "u1"})
	if UserID(ctx) != "u1" {
		t.Errorf("UserID = %q", UserID(ctx))
	}
}

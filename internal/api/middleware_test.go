package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safe-sql-sandbox/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newTestIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", auth.DefaultIssuer, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return issuer
}

func TestOptionalAuth_AttachesClaims(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.Issue("u-42", auth.RoleStudent)
	if err != nil {
		t.Fatal(err)
	}

	var gotUser string
	handler := OptionalAuthMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = auth.UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser != "u-42" {
		t.Errorf("user = %q, want u-42", gotUser)
	}
}

func TestOptionalAuth_AnonymousPassesThrough(t *testing.T) {
	issuer := newTestIssuer(t)

	tests := []struct {
		name   string
		issuer *auth.Issuer
		header string
	}{
		{"no header", issuer, ""},
		{"garbage token", issuer, "Bearer not-a-jwt"},
		{"wrong scheme", issuer, "Basic dXNlcjpwYXNz"},
		{"auth disabled", nil, "Bearer anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := OptionalAuthMiddleware(tt.issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if id := auth.UserID(r.Context()); id != "" {
					t.Errorf("unexpected user %q", id)
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Error("handler not called")
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/attempts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: got status %d, want 401", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != CodeAuthRequired {
		t.Errorf("code = %q, want %q", env.Code, CodeAuthRequired)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/attempts", nil).WithContext(withUser("u-1"))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated: got status %d, want 200", rec.Code)
	}
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.allow("a") {
		t.Error("third request within the same instant should be limited")
	}
	if !l.allow("b") {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.allow("a") {
		t.Error("bucket should refill after one second")
	}
	if l.allow("a") {
		t.Error("refill should be one token per second")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(1, 1)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	l.allow("idle")
	now = now.Add(10 * time.Minute)
	l.allow("active")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visitors["idle"]; ok {
		t.Error("idle visitor not swept")
	}
	if _, ok := l.visitors["active"]; !ok {
		t.Error("active visitor missing")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(0.001, 1)(okHandler)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/query/execute", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("10.0.0.1:1111"); rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}
	rec := send("10.0.0.1:2222")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP, new port: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if env := decodeEnvelope(t, rec); env.Code != CodeRateLimited {
		t.Errorf("code = %q", env.Code)
	}
	if rec := send("10.0.0.2:1111"); rec.Code != http.StatusOK {
		t.Errorf("different IP: got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := RateLimitMiddleware(0, 0)(okHandler)
	for i := range 50 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware("http://localhost:3000")(okHandler)

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodPost, "http://localhost:3000", false, http.StatusOK, "http://localhost:3000"},
		{"foreign origin", http.MethodPost, "https://evil.example", false, http.StatusOK, ""},
		{"preflight", http.MethodOptions, "http://localhost:3000", true, http.StatusNoContent, "http://localhost:3000"},
		{"no origin", http.MethodGet, "", false, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/query/execute", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("client request id not propagated: ctx %q header %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 36 {
		t.Errorf("oversized id should be replaced by a UUID, got %q", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", rec.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authcore"
)

type fakeValidator struct {
	tokens map[string]*authcore.AccessResult
	err    error
}

func (f fakeValidator) ValidateAccess(_ context.Context, token string) (*authcore.AccessResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res, ok := f.tokens[token]
	if !ok {
		return nil, authcore.ErrTokenInvalid
	}
	return res, nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	res, _ := AccessFromContext(r.Context())
	w.Header().Set("X-Account", res.AccountID)
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	v := fakeValidator{tokens: map[string]*authcore.AccessResult{
		"good": {AccountID: "acc-1", Roles: []string{"member"}, Permissions: []string{"profile.read"}},
	}}
	h := Guard(v)(okHandler)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic Z29vZA==", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, tc.header)
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d", rec.Code, tc.code)
			}
			if tc.code == http.StatusNoContent && rec.Header().Get("X-Account") != "acc-1" {
				t.Fatalf("access result not propagated")
			}
		})
	}
}

func TestGuardReportsOutageAs503(t *testing.T) {
	h := Guard(fakeValidator{err: authcore.ErrUnavailable})(okHandler)
	if rec := serve(h, "Bearer x"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	h = Guard(fakeValidator{err: authcore.ErrAccountNotActive})(okHandler)
	if rec := serve(h, "Bearer x"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestRequirePermissionAndRole(t *testing.T) {
	v := fakeValidator{tokens: map[string]*authcore.AccessResult{
		"member": {AccountID: "acc-1", Roles: []string{"member"}, Permissions: []string{"profile.read"}},
		"admin":  {AccountID: "acc-2", Roles: []string{"admin"}, Permissions: []string{"profile.read", "admin.users"}},
	}}

	perm := Guard(v)(RequirePermission("profile.read", "admin.users")(okHandler))
	if rec := serve(perm, "Bearer member"); rec.Code != http.StatusForbidden {
		t.Fatalf("member: code = %d, want 403", rec.Code)
	}
	if rec := serve(perm, "Bearer admin"); rec.Code != http.StatusNoContent {
		t.Fatalf("admin: code = %d, want 204", rec.Code)
	}

	role := Guard(v)(RequireRole("admin", "support")(okHandler))
	if rec := serve(role, "Bearer member"); rec.Code != http.StatusForbidden {
		t.Fatalf("member: code = %d, want 403", rec.Code)
	}
	if rec := serve(role, "Bearer admin"); rec.Code != http.StatusNoContent {
		t.Fatalf("admin: code = %d, want 204", rec.Code)
	}

	// Without Guard there is no access result.
	if rec := serve(RequireRole("admin")(okHandler), "Bearer admin"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unguarded: code = %d, want 401", rec.Code)
	}
}

func TestClientMetadata(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = authcore.ClientIPFromContext(r.Context())
		gotUA = authcore.UserAgentFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("User-Agent", "test-agent/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotIP != "10.0.0.1" || gotUA != "test-agent/1.0" {
		t.Fatalf("got ip=%q ua=%q", gotIP, gotUA)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotIP != "203.0.113.9" {
		t.Fatalf("forwarded ip = %q", gotIP)
	}

	ClientMetadata(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = authcore.ClientIPFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), req)
	if gotIP != "10.0.0.1" {
		t.Fatalf("untrusted proxy ip = %q", gotIP)
	}
}

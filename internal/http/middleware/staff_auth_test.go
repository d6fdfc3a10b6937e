package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestAdminJWTMissingSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/queue/call-next", nil)
	rec := httptest.NewRecorder()

	AdminJWT("")(noop).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/queue/call-next", nil)
	rec := httptest.NewRecorder()

	AdminJWT("secret")(noop).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/queue/call-next", nil)
	req.Header.Set("Authorization", "Bearer "+signedStaffToken(t, "wrong", ""))
	rec := httptest.NewRecorder()

	AdminJWT("secret")(noop).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/queue/call-next", nil)
	req.Header.Set("Authorization", "Bearer "+signedStaffToken(t, "secret", "clinic-1"))
	rec := httptest.NewRecorder()

	called := false
	AdminJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := StaffClaimsFromContext(r.Context())
		if !ok {
			t.Fatalf("expected staff claims in context")
		}
		if claims.ClinicID != "clinic-1" || claims.Subject != "frontdesk-user" {
			t.Fatalf("unexpected claims: %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestRequireClinic(t *testing.T) {
	handler := AdminJWT("secret")(RequireClinic(noop))
	token := signedStaffToken(t, "secret", "clinic-1")

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"same clinic", "/api/queue/status?clinicId=clinic-1", "", http.StatusOK},
		{"other clinic", "/api/queue/status?clinicId=clinic-2", "", http.StatusForbidden},
		{"header mismatch", "/api/queue/status", "clinic-2", http.StatusForbidden},
		{"unscoped request", "/api/queue/status", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			if tt.header != "" {
				req.Header.Set("X-Clinic-Id", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestClinicPermitted(t *testing.T) {
	if !ClinicPermitted(context.Background(), "clinic-2") {
		t.Fatal("requests without claims are not restricted")
	}
	if ClinicRestricted(context.Background()) {
		t.Fatal("no claims means no restriction")
	}

	scoped := context.WithValue(context.Background(), staffClaimsKey, StaffClaims{ClinicID: "clinic-1"})
	if !ClinicRestricted(scoped) {
		t.Fatal("clinic-bound token should be restricted")
	}
	if !ClinicPermitted(scoped, " clinic-1 ") {
		t.Fatal("own clinic should be permitted")
	}
	if ClinicPermitted(scoped, "clinic-2") {
		t.Fatal("other clinic should be refused")
	}

	unbound := context.WithValue(context.Background(), staffClaimsKey, StaffClaims{Role: "admin"})
	if !ClinicPermitted(unbound, "clinic-2") {
		t.Fatal("token without clinic claim is not restricted")
	}
}

func signedStaffToken(t *testing.T, secret, clinicID string) string {
	t.Helper()
	claims := StaffClaims{
		ClinicID: clinicID,
		Role:     "frontdesk",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "frontdesk-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"meme-composer/core"
	"meme-composer/handlers/auth"
)

func TestAuthJWT(t *testing.T) {
	auth.SetSecret([]byte("middleware-secret"))
	token, err := auth.NewToken(&core.User{Subject: "0xabc", Provider: "wallet"})
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := Claims(r)
		if !ok {
			t.Error("claims missing from context")
			return
		}
		gotSubject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v2/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			AuthJWT(next).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && gotSubject != "0xabc" {
				t.Errorf("subject = %q", gotSubject)
			}
		})
	}
}

func TestClaimsWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := Claims(req); ok {
		t.Error("Claims reported ok on a bare request")
	}
}

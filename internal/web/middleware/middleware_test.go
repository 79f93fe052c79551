package middleware

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/emailclean/internal/config"
	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/coreos/go-oidc/v3/oidc"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	h := APIKeyAuth(cfg)(http.HandlerFunc(okHandler))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusForbidden},
		{"first key", "k1", http.StatusOK},
		{"second key", "k2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/lists", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	open := APIKeyAuth(&config.SecurityConfig{})(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("disabled auth status = %d, want 200", rec.Code)
	}
}

func TestTrustedRealIP(t *testing.T) {
	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-an-ip"})

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"trusted proxy X-Real-IP", "10.1.2.3:5555", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"trusted single IP XFF", "192.168.1.5:80", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "198.51.100.1"},
		{"untrusted client ignored", "203.0.113.9:4444", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.9:4444"},
		{"invalid header ignored", "10.1.2.3:5555", map[string]string{"X-Real-IP": "garbage"}, "10.1.2.3:5555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := h(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentity_HeaderAuthenticator(t *testing.T) {
	var owner string
	h := Identity(HeaderAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner = core.OwnerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/lists", nil)
	req.Header.Set("X-User-ID", " user-7 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if owner != "user-7" {
		t.Errorf("owner = %q, want user-7", owner)
	}
}

// unsignedToken builds a JWS-shaped token; the verifier under test skips
// signature checks but still enforces issuer, audience and expiry.
func unsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("%s.%s.%s", header, enc.EncodeToString(body), enc.EncodeToString([]byte("sig")))
}

func TestIdentity_OIDC(t *testing.T) {
	const issuer = "https://issuer.example.test"
	verifier := oidc.NewVerifier(issuer, &oidc.StaticKeySet{}, &oidc.Config{
		ClientID:                   "emailclean",
		InsecureSkipSignatureCheck: true,
	})

	var owner string
	h := Identity(NewOIDCAuthenticatorWithVerifier(verifier))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner = core.OwnerFromContext(r.Context())
	}))

	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name      string
		authz     string
		wantCode  int
		wantOwner string
	}{
		{"no token", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer abc", http.StatusUnauthorized, ""},
		{"wrong audience", "Bearer " + unsignedToken(t, map[string]any{"iss": issuer, "aud": "other", "sub": "u1", "exp": exp}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + unsignedToken(t, map[string]any{"iss": issuer, "aud": "emailclean", "sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"valid", "Bearer " + unsignedToken(t, map[string]any{"iss": issuer, "aud": "emailclean", "sub": "u1", "exp": exp}), http.StatusOK, "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner = ""
			req := httptest.NewRequest(http.MethodGet, "/api/lists", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if owner != tt.wantOwner {
				t.Errorf("owner = %q, want %q", owner, tt.wantOwner)
			}
		})
	}
}

func TestLogger_PassesFlush(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer is not a Flusher")
		}
		w.Write([]byte("data: x\n\n"))
		f.Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !rec.Flushed {
		t.Error("response was not flushed")
	}
}

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the user id that owns lists created by a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (string, error)
}

// OIDCAuthenticator verifies a bearer ID token and uses its subject.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier for
// tokens issued to clientID.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCAuthenticatorWithVerifier wraps an existing verifier.
func NewOIDCAuthenticatorWithVerifier(v *oidc.IDTokenVerifier) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: v}
}

// Authenticate implements Authenticator.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", ErrUnauthenticated
	}
	tok, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if tok.Subject == "" {
		return "", fmt.Errorf("verify token: empty subject")
	}
	return tok.Subject, nil
}

// HeaderAuthenticator trusts a user id header set by an upstream gateway.
// A missing header means the anonymous owner "".
type HeaderAuthenticator struct {
	Header string
}

// Authenticate implements Authenticator.
func (a HeaderAuthenticator) Authenticate(_ context.Context, r *http.Request) (string, error) {
	name := a.Header
	if name == "" {
		name = "X-User-ID"
	}
	return strings.TrimSpace(r.Header.Get(name)), nil
}

// Identity resolves the caller with auth and stores the owner on the request
// context for core.OwnerFromContext.
func Identity(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := auth.Authenticate(r.Context(), r)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					logDeny(r, "missing bearer token")
					writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "AUTH001")
					return
				}
				logDeny(r, "invalid bearer token: "+err.Error())
				writeAuthError(w, http.StatusUnauthorized, "invalid token", "AUTH001")
				return
			}
			next.ServeHTTP(w, r.WithContext(core.ContextWithOwner(r.Context(), owner)))
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

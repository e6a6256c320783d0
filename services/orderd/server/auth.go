package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"trustlink/escrow"
)

type contextKey string

const contextKeyViewer contextKey = "viewer"

// AuthConfig configures session token verification.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience []string
	Leeway   time.Duration
	Now      func() time.Time
}

// Authenticator verifies HS256 session tokens whose subject is the wallet
// address of the caller.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience []string
	leeway   time.Duration
	now      func() time.Time
}

// NewAuthenticator validates cfg and returns a verifier.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	audience := make([]string, 0, len(cfg.Audience))
	for _, aud := range cfg.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: audience,
		leeway:   cfg.Leeway,
		now:      cfg.Now,
	}, nil
}

// Verify parses token and returns the address in its subject.
func (a *Authenticator) Verify(token string) (common.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(a.leeway))
	}
	if a.now != nil {
		opts = append(opts, jwt.WithTimeFunc(a.now))
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, errors.New("token validation failed")
	}
	if len(a.audience) > 0 {
		tokenAud, err := claims.GetAudience()
		if err != nil || !audienceMatches(a.audience, tokenAud) {
			return common.Address{}, errors.New("token audience mismatch")
		}
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return common.Address{}, errors.New("token subject missing")
	}
	addr, err := escrow.ParseAddress(subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("token subject: %w", err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("token subject is the zero address")
	}
	return addr, nil
}

// Middleware rejects requests without a valid session and stores the
// caller's address on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		viewer, err := a.Verify(token)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid authorization token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyViewer, viewer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ViewerFrom returns the authenticated caller attached by Middleware.
func ViewerFrom(ctx context.Context) (common.Address, bool) {
	viewer, ok := ctx.Value(contextKeyViewer).(common.Address)
	return viewer, ok && viewer != (common.Address{})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a WebSocket upgrade, so upgrades may carry the token in access_token.
func bearerToken(r *http.Request) (string, error) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
				return token, nil
			}
		}
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func audienceMatches(expected, actual []string) bool {
	for _, want := range expected {
		for _, got := range actual {
			if strings.EqualFold(want, got) {
				return true
			}
		}
	}
	return false
}

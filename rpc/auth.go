package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeBridge marks tokens allowed to submit cross-chain instructions. The
// token subject is the bridge's bech32 address and becomes the caller identity
// the engine authorises.
const ScopeBridge = "bridge"

// authClaims is the validated identity attached to an authenticated request.
type authClaims struct {
	Subject string
	Scopes  []string
}

func (c *authClaims) hasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// authenticator verifies HS256 bearer tokens with issuer and audience pinning.
type authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

func newAuthenticator(secret, issuer, audience string) *authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil
	}
	return &authenticator{
		secret:   []byte(trimmed),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		leeway:   30 * time.Second,
		now:      time.Now,
	}
}

var (
	errMissingAuth  = errors.New("rpc: missing bearer token")
	errInvalidAuth  = errors.New("rpc: invalid bearer token")
	errMissingScope = errors.New("rpc: token lacks required scope")
)

// verifyRequest extracts and validates the bearer token from the request.
func (a *authenticator) verifyRequest(r *http.Request) (*authClaims, error) {
	if a == nil {
		return nil, errInvalidAuth
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return nil, errMissingAuth
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errMissingAuth
	}
	return a.verify(strings.TrimSpace(parts[1]))
}

func (a *authenticator) verify(token string) (*authClaims, error) {
	if a == nil || token == "" {
		return nil, errMissingAuth
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, errInvalidAuth
	}

	subject := ""
	if sub, ok := claims["sub"].(string); ok {
		subject = strings.TrimSpace(sub)
	}
	if subject == "" {
		return nil, errInvalidAuth
	}
	return &authClaims{Subject: subject, Scopes: extractScopes(claims["scope"])}, nil
}

func extractScopes(value interface{}) []string {
	switch v := value.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	default:
		return nil
	}
}

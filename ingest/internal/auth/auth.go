// Package auth verifies who is posting events: either an edge device
// presenting the fleet-wide shared token, or a principal presenting a
// signed bearer token bound to an org.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

// EdgeTokenHeader carries the shared edge credential.
const EdgeTokenHeader = "X-EDGE-TOKEN"

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSecretNotConfigured means an edge presented a token but the
	// server has no secret to compare against. This is an operational
	// misconfiguration, reported distinctly so it is not mistaken for
	// an intrusion attempt.
	ErrSecretNotConfigured = errors.New("edge token not configured")
	ErrOrgMismatch         = errors.New("store belongs to another org")
)

// Principal kinds.
const (
	KindEdge = "edge"
	KindUser = "user"
)

// Principal is an authenticated caller.
type Principal struct {
	Kind  string
	OrgID string
}

// Claims are the bearer token claims accepted by the gateway.
type Claims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// Authenticator validates edge tokens and bearer tokens.
type Authenticator struct {
	edgeSecret string
	jwtSecret  []byte
}

// NewAuthenticator creates an authenticator. Empty secrets are allowed
// at construction time; the corresponding credential kind then fails
// with an explicit error at request time.
func NewAuthenticator(edgeSecret, jwtSecret string) *Authenticator {
	return &Authenticator{
		edgeSecret: edgeSecret,
		jwtSecret:  []byte(jwtSecret),
	}
}

// Authenticate inspects the request credentials and returns the caller.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if token := r.Header.Get(EdgeTokenHeader); token != "" {
		if a.edgeSecret == "" {
			return nil, ErrSecretNotConfigured
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.edgeSecret)) != 1 {
			return nil, ErrInvalidCredentials
		}
		return &Principal{Kind: KindEdge}, nil
	}

	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, ErrInvalidCredentials
		}
		claims, err := a.validateBearer(token)
		if err != nil {
			return nil, err
		}
		return &Principal{Kind: KindUser, OrgID: claims.OrgID}, nil
	}

	return nil, ErrMissingCredentials
}

// Authorize checks that the principal may act on the given store. Edge
// principals hold the fleet-wide credential and may reference any
// store; user principals are confined to their own org.
func (a *Authenticator) Authorize(p *Principal, store *models.Store) error {
	if p.Kind == KindEdge {
		return nil
	}
	if p.OrgID == "" || p.OrgID != store.OrgID {
		return ErrOrgMismatch
	}
	return nil
}

func (a *Authenticator) validateBearer(tokenString string) (*Claims, error) {
	if len(a.jwtSecret) == 0 {
		return nil, ErrInvalidCredentials
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredentials
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return claims, nil
}

// SignBearer issues a bearer token for an org. Used by tests and by
// the camsim tool; production tokens come from the account service.
func SignBearer(jwtSecret, orgID string, ttl time.Duration) (string, error) {
	claims := Claims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "storepulse",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

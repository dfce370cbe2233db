package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

func TestAuthenticateEdgeToken(t *testing.T) {
	a := NewAuthenticator("fleet-secret", "")

	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set(EdgeTokenHeader, "fleet-secret")

	p, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, KindEdge, p.Kind)
}

func TestAuthenticateEdgeTokenWrongSecret(t *testing.T) {
	a := NewAuthenticator("fleet-secret", "")

	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set(EdgeTokenHeader, "guess")

	_, err := a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateEdgeTokenUnconfigured(t *testing.T) {
	a := NewAuthenticator("", "")

	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set(EdgeTokenHeader, "fleet-secret")

	_, err := a.Authenticate(req)
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

func TestAuthenticateBearer(t *testing.T) {
	a := NewAuthenticator("", "signing-key")

	token, err := SignBearer("signing-key", "org-42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	p, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, KindUser, p.Kind)
	assert.Equal(t, "org-42", p.OrgID)
}

func TestAuthenticateBearerExpired(t *testing.T) {
	a := NewAuthenticator("", "signing-key")

	token, err := SignBearer("signing-key", "org-42", -time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateBearerWrongKey(t *testing.T) {
	a := NewAuthenticator("", "signing-key")

	token, err := SignBearer("other-key", "org-42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateNoCredentials(t *testing.T) {
	a := NewAuthenticator("fleet-secret", "signing-key")

	req := httptest.NewRequest("POST", "/events", nil)
	_, err := a.Authenticate(req)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestAuthorize(t *testing.T) {
	a := NewAuthenticator("fleet-secret", "signing-key")
	store := &models.Store{ID: "s1", OrgID: "org-42"}

	assert.NoError(t, a.Authorize(&Principal{Kind: KindEdge}, store))
	assert.NoError(t, a.Authorize(&Principal{Kind: KindUser, OrgID: "org-42"}, store))
	assert.ErrorIs(t, a.Authorize(&Principal{Kind: KindUser, OrgID: "org-7"}, store), ErrOrgMismatch)
	assert.ErrorIs(t, a.Authorize(&Principal{Kind: KindUser}, store), ErrOrgMismatch)
}

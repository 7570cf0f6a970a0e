package idp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karmaly/authloader/internal/identity"
)

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/github/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"login":"octo","email":"octo@example.com","avatar_url":"https://img/octo"}`))
	})
	mux.HandleFunc("/facebook/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"fb-9","name":"Zuck","email":"z@example.com"}`))
	})
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"sub":"g-7","aud":"client","email":"g@example.com","email_verified":"true","name":"G"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestVerifier(srv *httptest.Server, clientID string) *HTTPVerifier {
	return NewHTTPVerifier(srv.Client(), clientID).WithEndpoints(srv.URL+"/tokeninfo", map[string]string{
		identity.GitHubProviderID:   srv.URL + "/github/user",
		identity.FacebookProviderID: srv.URL + "/facebook/me",
	})
}

func TestHTTPVerifierGitHub(t *testing.T) {
	srv := newProviderServer(t)
	v := newTestVerifier(srv, "client")

	profile, err := v.Verify(context.Background(), identity.Credential{ProviderID: identity.GitHubProviderID, AccessToken: "gh-token"})
	require.NoError(t, err)
	assert.Equal(t, "42", profile.ExternalID)
	assert.Equal(t, "octo", profile.DisplayName)
	assert.Equal(t, "octo@example.com", profile.Email)

	_, err = v.Verify(context.Background(), identity.Credential{ProviderID: identity.GitHubProviderID, AccessToken: "stolen"})
	assert.ErrorIs(t, err, identity.ErrInvalidCredential)
}

func TestHTTPVerifierFacebook(t *testing.T) {
	srv := newProviderServer(t)
	profile, err := newTestVerifier(srv, "").Verify(context.Background(), identity.Credential{ProviderID: identity.FacebookProviderID, AccessToken: "fb"})
	require.NoError(t, err)
	assert.Equal(t, "fb-9", profile.ExternalID)
	assert.Equal(t, identity.FacebookProviderID, profile.ProviderID)
}

func TestHTTPVerifierGoogleIDToken(t *testing.T) {
	srv := newProviderServer(t)
	ctx := context.Background()

	profile, err := newTestVerifier(srv, "client").Verify(ctx, identity.Credential{ProviderID: identity.GoogleProviderID, IDToken: "good"})
	require.NoError(t, err)
	assert.Equal(t, "g-7", profile.ExternalID)
	assert.True(t, profile.EmailVerified)

	_, err = newTestVerifier(srv, "someone-else").Verify(ctx, identity.Credential{ProviderID: identity.GoogleProviderID, IDToken: "good"})
	assert.ErrorIs(t, err, identity.ErrInvalidCredential)

	_, err = newTestVerifier(srv, "client").Verify(ctx, identity.Credential{ProviderID: identity.GoogleProviderID, IDToken: "bad"})
	assert.ErrorIs(t, err, identity.ErrInvalidCredential)
}

func TestHTTPVerifierRejectsUnknownProvider(t *testing.T) {
	v := NewHTTPVerifier(nil, "")
	_, err := v.Verify(context.Background(), identity.Credential{ProviderID: "twitter.com", AccessToken: "x"})
	assert.ErrorIs(t, err, identity.ErrUnknownProvider)

	_, err = v.Verify(context.Background(), identity.Credential{ProviderID: identity.GitHubProviderID})
	assert.ErrorIs(t, err, identity.ErrInvalidCredential)
}

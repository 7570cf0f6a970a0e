package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderPerKind(t *testing.T) {
	cases := []struct {
		kind string
		id   string
	}{
		{"google", GoogleProviderID},
		{"facebook", FacebookProviderID},
		{"github", GitHubProviderID},
	}
	seen := map[string]*Provider{}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			p, err := NewProvider(tc.kind)
			require.NoError(t, err)
			assert.Equal(t, tc.id, p.ID)
			assert.Equal(t, ProviderKind(tc.kind), p.Kind)
			assert.NotEmpty(t, p.Endpoint.AuthURL)
			for other, prev := range seen {
				assert.NotEqual(t, prev.ID, p.ID, "provider %s collides with %s", tc.kind, other)
			}
			seen[tc.kind] = p
		})
	}
}

func TestNewProviderRejectsUnknownKind(t *testing.T) {
	for _, kind := range []string{"twitter", "", "Google", "apple"} {
		_, err := NewProvider(kind)
		assert.ErrorIs(t, err, ErrUnknownProvider, kind)
	}
}

func TestNewProviderReturnsIndependentInstances(t *testing.T) {
	a, err := NewProvider("github")
	require.NoError(t, err)
	b, err := NewProvider("github")
	require.NoError(t, err)

	a.AddScope("repo")
	assert.NotContains(t, b.Scopes, "repo")
	a.AddScope("repo")
	assert.Len(t, a.Scopes, len(b.Scopes)+1)
}

func TestNewCredential(t *testing.T) {
	cred, err := NewCredential("google", "id-token")
	require.NoError(t, err)
	assert.Equal(t, Credential{ProviderID: GoogleProviderID, IDToken: "id-token"}, cred)

	cred, err = NewCredential("facebook", "fb-token")
	require.NoError(t, err)
	assert.Equal(t, Credential{ProviderID: FacebookProviderID, AccessToken: "fb-token"}, cred)

	cred, err = NewCredential("github", "gh-token")
	require.NoError(t, err)
	assert.Equal(t, Credential{ProviderID: GitHubProviderID, AccessToken: "gh-token"}, cred)

	_, err = NewCredential("myspace", "x")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOAuthConfigCopiesScopes(t *testing.T) {
	p, err := NewProvider("google")
	require.NoError(t, err)
	cfg := p.OAuthConfig("client", "secret", "http://localhost/cb")
	cfg.Scopes[0] = "changed"
	assert.Equal(t, "openid", p.Scopes[0])
	assert.Equal(t, "client", cfg.ClientID)
}

package identity

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// ProviderKind names a supported federated sign-in provider.
type ProviderKind string

const (
	Google   ProviderKind = "google"
	Facebook ProviderKind = "facebook"
	GitHub   ProviderKind = "github"
)

const (
	GoogleProviderID   = "google.com"
	FacebookProviderID = "facebook.com"
	GitHubProviderID   = "github.com"
	PasswordProviderID = "password"
)

// Provider describes how to run an OAuth flow against one federated provider.
type Provider struct {
	Kind        ProviderKind
	ID          string
	Endpoint    oauth2.Endpoint
	Scopes      []string
	UserInfoURL string
}

// AddScope appends scope unless it is already requested.
func (p *Provider) AddScope(scope string) {
	for _, s := range p.Scopes {
		if s == scope {
			return
		}
	}
	p.Scopes = append(p.Scopes, scope)
}

// OAuthConfig builds a client configuration for this provider.
func (p *Provider) OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     p.Endpoint,
		Scopes:       append([]string(nil), p.Scopes...),
	}
}

// Credential is a provider-issued token usable for sign-in or linking.
type Credential struct {
	ProviderID  string
	IDToken     string
	AccessToken string
}

// ParseProviderKind validates kind against the supported set.
func ParseProviderKind(kind string) (ProviderKind, error) {
	switch k := ProviderKind(kind); k {
	case Google, Facebook, GitHub:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
}

// NewProvider returns a fresh provider description for kind.
func NewProvider(kind string) (*Provider, error) {
	k, err := ParseProviderKind(kind)
	if err != nil {
		return nil, err
	}
	switch k {
	case Google:
		return &Provider{
			Kind:        Google,
			ID:          GoogleProviderID,
			Endpoint:    google.Endpoint,
			Scopes:      []string{"openid", "email", "profile"},
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		}, nil
	case Facebook:
		return &Provider{
			Kind:        Facebook,
			ID:          FacebookProviderID,
			Endpoint:    facebook.Endpoint,
			Scopes:      []string{"email", "public_profile"},
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		}, nil
	default:
		return &Provider{
			Kind:        GitHub,
			ID:          GitHubProviderID,
			Endpoint:    github.Endpoint,
			Scopes:      []string{"read:user", "user:email"},
			UserInfoURL: "https://api.github.com/user",
		}, nil
	}
}

// NewCredential wraps token as a credential for kind. Google accepts an ID
// token; Facebook and GitHub accept an OAuth access token.
func NewCredential(kind, token string) (Credential, error) {
	k, err := ParseProviderKind(kind)
	if err != nil {
		return Credential{}, err
	}
	switch k {
	case Google:
		return Credential{ProviderID: GoogleProviderID, IDToken: token}, nil
	case Facebook:
		return Credential{ProviderID: FacebookProviderID, AccessToken: token}, nil
	default:
		return Credential{ProviderID: GitHubProviderID, AccessToken: token}, nil
	}
}

// KindForProviderID maps a provider id such as "github.com" back to its kind.
func KindForProviderID(providerID string) (ProviderKind, bool) {
	switch providerID {
	case GoogleProviderID:
		return Google, true
	case FacebookProviderID:
		return Facebook, true
	case GitHubProviderID:
		return GitHub, true
	default:
		return "", false
	}
}

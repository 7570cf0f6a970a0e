package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/karmaly/authloader/internal/accounts"
	"github.com/karmaly/authloader/internal/identity"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// Verifier resolves a provider credential to the provider's account.
type Verifier interface {
	Verify(ctx context.Context, cred identity.Credential) (accounts.ExternalProfile, error)
}

// HTTPVerifier checks credentials against the providers' public endpoints.
type HTTPVerifier struct {
	client         *http.Client
	googleClientID string
	tokenInfoURL   string
	userInfoURLs   map[string]string
}

// NewHTTPVerifier builds a verifier. googleClientID, when set, must match the
// audience of Google ID tokens.
func NewHTTPVerifier(client *http.Client, googleClientID string) *HTTPVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPVerifier{
		client:         client,
		googleClientID: googleClientID,
		tokenInfoURL:   googleTokenInfoURL,
		userInfoURLs:   map[string]string{},
	}
}

// WithEndpoints overrides the token info URL and per-provider user info URLs.
func (v *HTTPVerifier) WithEndpoints(tokenInfoURL string, userInfo map[string]string) *HTTPVerifier {
	if tokenInfoURL != "" {
		v.tokenInfoURL = tokenInfoURL
	}
	for id, u := range userInfo {
		v.userInfoURLs[id] = u
	}
	return v
}

func (v *HTTPVerifier) Verify(ctx context.Context, cred identity.Credential) (accounts.ExternalProfile, error) {
	kind, ok := identity.KindForProviderID(cred.ProviderID)
	if !ok {
		return accounts.ExternalProfile{}, fmt.Errorf("%w: %q", identity.ErrUnknownProvider, cred.ProviderID)
	}
	if kind == identity.Google && cred.IDToken != "" {
		return v.verifyGoogleIDToken(ctx, cred.IDToken)
	}
	if cred.AccessToken == "" {
		return accounts.ExternalProfile{}, fmt.Errorf("%w: no token for %s", identity.ErrInvalidCredential, cred.ProviderID)
	}

	provider, err := identity.NewProvider(string(kind))
	if err != nil {
		return accounts.ExternalProfile{}, err
	}
	endpoint := provider.UserInfoURL
	if u, ok := v.userInfoURLs[provider.ID]; ok {
		endpoint = u
	}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, v.client),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken}))
	body, err := v.get(ctx, client, endpoint)
	if err != nil {
		return accounts.ExternalProfile{}, err
	}
	return decodeUserInfo(kind, body)
}

func (v *HTTPVerifier) verifyGoogleIDToken(ctx context.Context, idToken string) (accounts.ExternalProfile, error) {
	endpoint := v.tokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	body, err := v.get(ctx, v.client, endpoint)
	if err != nil {
		return accounts.ExternalProfile{}, err
	}
	var info struct {
		Sub           string `json:"sub"`
		Aud           string `json:"aud"`
		Email         string `json:"email"`
		EmailVerified string `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return accounts.ExternalProfile{}, fmt.Errorf("decode token info: %w", err)
	}
	if info.Sub == "" {
		return accounts.ExternalProfile{}, fmt.Errorf("%w: token has no subject", identity.ErrInvalidCredential)
	}
	if v.googleClientID != "" && info.Aud != v.googleClientID {
		return accounts.ExternalProfile{}, fmt.Errorf("%w: audience %q", identity.ErrInvalidCredential, info.Aud)
	}
	return accounts.ExternalProfile{
		ProviderID:    identity.GoogleProviderID,
		ExternalID:    info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified == "true",
		DisplayName:   info.Name,
		PhotoURL:      info.Picture,
	}, nil
}

func (v *HTTPVerifier) get(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider answered %d", identity.ErrInvalidCredential, resp.StatusCode)
	}
	return body, nil
}

func decodeUserInfo(kind identity.ProviderKind, body []byte) (accounts.ExternalProfile, error) {
	switch kind {
	case identity.GitHub:
		var info struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Name      string `json:"name"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return accounts.ExternalProfile{}, fmt.Errorf("decode github user: %w", err)
		}
		if info.ID == 0 {
			return accounts.ExternalProfile{}, fmt.Errorf("%w: github user has no id", identity.ErrInvalidCredential)
		}
		name := info.Name
		if name == "" {
			name = info.Login
		}
		return accounts.ExternalProfile{
			ProviderID:  identity.GitHubProviderID,
			ExternalID:  strconv.FormatInt(info.ID, 10),
			Email:       info.Email,
			DisplayName: name,
			PhotoURL:    info.AvatarURL,
		}, nil
	case identity.Facebook:
		var info struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return accounts.ExternalProfile{}, fmt.Errorf("decode facebook user: %w", err)
		}
		if info.ID == "" {
			return accounts.ExternalProfile{}, fmt.Errorf("%w: facebook user has no id", identity.ErrInvalidCredential)
		}
		return accounts.ExternalProfile{
			ProviderID:  identity.FacebookProviderID,
			ExternalID:  info.ID,
			Email:       info.Email,
			DisplayName: info.Name,
		}, nil
	default:
		var info struct {
			Sub           string `json:"sub"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
			Name          string `json:"name"`
			Picture       string `json:"picture"`
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return accounts.ExternalProfile{}, fmt.Errorf("decode google user: %w", err)
		}
		if info.Sub == "" {
			return accounts.ExternalProfile{}, fmt.Errorf("%w: google user has no subject", identity.ErrInvalidCredential)
		}
		return accounts.ExternalProfile{
			ProviderID:    identity.GoogleProviderID,
			ExternalID:    info.Sub,
			Email:         info.Email,
			EmailVerified: info.EmailVerified,
			DisplayName:   info.Name,
			PhotoURL:      info.Picture,
		}, nil
	}
}

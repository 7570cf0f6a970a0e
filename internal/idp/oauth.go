package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/viant/scy/auth/flow"
	"golang.org/x/oauth2"

	"github.com/karmaly/authloader/internal/identity"
)

const redirectTTL = 10 * time.Minute

// Popup runs an interactive authorization code flow and returns the token.
type Popup interface {
	Token(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// LoopbackPopup runs a PKCE flow against a one-shot callback listener on
// 127.0.0.1. The authorization URL is handed to Open.
type LoopbackPopup struct {
	// Open presents the authorization URL to the user. The default logs it.
	Open   func(url string) error
	logger *slog.Logger
}

// NewLoopbackPopup returns a popup that logs the URL to visit.
func NewLoopbackPopup(logger *slog.Logger) *LoopbackPopup {
	p := &LoopbackPopup{logger: logger}
	p.Open = func(url string) error {
		p.logger.Info("open the authorization url to continue", "url", url)
		return nil
	}
	return p
}

type callbackResult struct {
	code string
	err  error
}

func (p *LoopbackPopup) Token(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	redirectURI := fmt.Sprintf("http://%s/callback", ln.Addr().String())
	local := *cfg
	local.RedirectURL = redirectURI

	state := flow.GenerateCodeVerifier()
	verifier := flow.GenerateCodeVerifier()
	authURL, err := flow.BuildAuthCodeURL(&local, flow.WithPKCE(true), flow.WithState(state), flow.WithCodeVerifier(verifier), flow.WithRedirectURI(redirectURI))
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("build authorization url: %w", err)
	}

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			res := callbackResult{code: q.Get("code")}
			switch {
			case q.Get("error") != "":
				res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
			case q.Get("state") != state:
				res.err = identity.ErrInvalidRedirect
			case res.code == "":
				res.err = errors.New("callback carried no code")
			}
			select {
			case results <- res:
			default:
			}
			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("Signed in. You can close this window."))
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	if err := p.Open(authURL); err != nil {
		return nil, fmt.Errorf("open authorization url: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		return flow.Exchange(ctx, &local, res.code, flow.WithCodeVerifier(verifier), flow.WithRedirectURI(redirectURI))
	}
}

type pendingRedirect struct {
	provider   *identity.Provider
	verifier   string
	linkUserID string
	created    time.Time
}

func (a *Auth) oauthConfig(provider *identity.Provider) *oauth2.Config {
	return provider.OAuthConfig(a.oauth.ClientID, a.oauth.ClientSecret, a.oauth.RedirectURL)
}

func (a *Auth) popupCredential(ctx context.Context, provider *identity.Provider) (identity.Credential, error) {
	if provider == nil {
		return identity.Credential{}, identity.ErrUnknownProvider
	}
	token, err := a.popup.Token(ctx, a.oauthConfig(provider))
	if err != nil {
		return identity.Credential{}, fmt.Errorf("%s popup: %w", provider.ID, err)
	}
	return credentialFromToken(provider, token), nil
}

func (a *Auth) beginRedirect(provider *identity.Provider, linkUserID string) (string, error) {
	if provider == nil {
		return "", identity.ErrUnknownProvider
	}
	cfg := a.oauthConfig(provider)
	if cfg.RedirectURL == "" {
		return "", fmt.Errorf("%w: no oauth redirect url configured", identity.ErrUnsupported)
	}
	verifier := flow.GenerateCodeVerifier()
	state := uuid.NewString()
	authURL, err := flow.BuildAuthCodeURL(cfg, flow.WithPKCE(true), flow.WithState(state), flow.WithCodeVerifier(verifier), flow.WithRedirectURI(cfg.RedirectURL))
	if err != nil {
		return "", fmt.Errorf("build authorization url: %w", err)
	}

	now := a.now()
	a.mu.Lock()
	for k, p := range a.redirects {
		if now.Sub(p.created) > redirectTTL {
			delete(a.redirects, k)
		}
	}
	a.redirects[state] = pendingRedirect{provider: provider, verifier: verifier, linkUserID: linkUserID, created: now}
	a.mu.Unlock()
	return authURL, nil
}

// takeRedirect removes and returns the pending redirect for state.
func (a *Auth) takeRedirect(state string) (pendingRedirect, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.redirects[state]
	if !ok {
		return pendingRedirect{}, false
	}
	delete(a.redirects, state)
	if a.now().Sub(p.created) > redirectTTL {
		return pendingRedirect{}, false
	}
	return p, true
}

func (a *Auth) exchangeRedirect(ctx context.Context, p pendingRedirect, code string) (identity.Credential, error) {
	if code == "" {
		return identity.Credential{}, identity.ErrInvalidRedirect
	}
	cfg := a.oauthConfig(p.provider)
	token, err := flow.Exchange(ctx, cfg, code, flow.WithCodeVerifier(p.verifier), flow.WithRedirectURI(cfg.RedirectURL))
	if err != nil {
		return identity.Credential{}, fmt.Errorf("exchange code: %w", err)
	}
	return credentialFromToken(p.provider, token), nil
}

// credentialFromToken prefers the OpenID ID token when the provider returned
// one.
func credentialFromToken(provider *identity.Provider, token *oauth2.Token) identity.Credential {
	cred := identity.Credential{ProviderID: provider.ID}
	if token == nil {
		return cred
	}
	if id, ok := token.Extra("id_token").(string); ok && id != "" && provider.Kind == identity.Google {
		cred.IDToken = id
		return cred
	}
	cred.AccessToken = token.AccessToken
	return cred
}

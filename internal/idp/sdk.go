// Package idp is the bundled identity provider SDK. It implements
// identity.SDK on top of the accounts backend and persists the signed-in
// session into the identity-owned local store.
package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/karmaly/authloader/internal/accounts"
	"github.com/karmaly/authloader/internal/identity"
	"github.com/karmaly/authloader/internal/localstore"
	"github.com/karmaly/authloader/internal/notification"
)

// DefaultAppName is the name of the app created by InitializeApp.
const DefaultAppName = "[DEFAULT]"

// OAuthClient holds the registered OAuth client used for popup and redirect
// flows.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Options wires the services the SDK runs on.
type Options struct {
	Accounts *accounts.Service
	Tokens   *accounts.Tokens
	Stores   *localstore.Factory
	OAuth    OAuthClient
	Popup    Popup
	Verifier Verifier
	Notifier notification.Notifier
	// Events receives analytics events as a Redis stream. Optional.
	Events *redis.Client
	Logger *slog.Logger
}

// SDK implements identity.SDK.
type SDK struct {
	opts Options
}

var _ identity.SDK = (*SDK)(nil)

// New validates opts and fills in defaults.
func New(opts Options) (*SDK, error) {
	if opts.Accounts == nil || opts.Tokens == nil || opts.Stores == nil {
		return nil, errors.New("idp: accounts, tokens and stores are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Popup == nil {
		opts.Popup = NewLoopbackPopup(opts.Logger)
	}
	if opts.Verifier == nil {
		opts.Verifier = NewHTTPVerifier(nil, opts.OAuth.ClientID)
	}
	if opts.Notifier == nil {
		opts.Notifier = notification.NewLoggerNotifier(opts.Logger)
	}
	return &SDK{opts: opts}, nil
}

// App is an initialised application.
type App struct {
	name string
	cfg  identity.Config

	authOnce sync.Once
	auth     *Auth
}

func (a *App) Name() string { return a.name }

func (a *App) Options() identity.Config { return a.cfg }

// InitializeApp creates the default app.
func (s *SDK) InitializeApp(_ context.Context, cfg identity.Config) (identity.App, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("idp: api key is required")
	}
	s.opts.Logger.Debug("identity app initialized", "project_id", cfg.ProjectID)
	return &App{name: DefaultAppName, cfg: cfg}, nil
}

func (s *SDK) own(app identity.App) (*App, error) {
	a, ok := app.(*App)
	if !ok || a == nil {
		return nil, fmt.Errorf("idp: app %T was not created by this sdk", app)
	}
	return a, nil
}

// LoadAuth returns the auth module of app. The auth instance is created once
// per app and starts restoring the persisted session in the background.
func (s *SDK) LoadAuth(ctx context.Context, app identity.App) (identity.AuthModule, error) {
	a, err := s.own(app)
	if err != nil {
		return nil, err
	}
	a.authOnce.Do(func() {
		a.auth = newAuth(a, s.opts)
		go a.auth.restore(context.WithoutCancel(ctx))
	})
	return authModule{auth: a.auth}, nil
}

// LoadAnalytics returns the analytics module of app.
func (s *SDK) LoadAnalytics(_ context.Context, app identity.App) (identity.AnalyticsModule, error) {
	a, err := s.own(app)
	if err != nil {
		return nil, err
	}
	if a.cfg.MeasurementID == "" {
		return nil, fmt.Errorf("%w: analytics needs a measurement id", identity.ErrUnsupported)
	}
	return newAnalytics(a, s.opts.Events, s.opts.Logger), nil
}

type authModule struct {
	auth *Auth
}

func (m authModule) Auth() identity.Auth { return m.auth }

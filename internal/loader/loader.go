// Package loader defers loading of the identity SDK until it is activated and
// forwards authentication calls to the loaded module.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/karmaly/authloader/internal/identity"
	"github.com/karmaly/authloader/internal/lazy"
	"github.com/karmaly/authloader/internal/userstate"
)

// analyticsTimeout bounds one fire-and-forget analytics event.
const analyticsTimeout = 30 * time.Second

// Options configures a Loader.
type Options struct {
	SDK    identity.SDK
	Config identity.Config
	// Production enables analytics. Outside production AnalyticsLogger never
	// touches the analytics module.
	Production bool
	Users      *userstate.Store
	Logger     *slog.Logger
}

// Loader owns the memoized app, auth and analytics modules.
type Loader struct {
	sdk        identity.SDK
	cfg        identity.Config
	production bool
	users      *userstate.Store
	logger     *slog.Logger

	appGate       lazy.Gate
	analyticsGate lazy.Gate

	app       lazy.Value[identity.App]
	auth      lazy.Value[identity.AuthModule]
	analytics lazy.Value[identity.AnalyticsModule]

	userMu     sync.Mutex
	userLoaded bool

	events sync.WaitGroup
}

// New builds a Loader. Nothing is loaded until ActivateApp or a module
// accessor is called.
func New(opts Options) (*Loader, error) {
	if opts.SDK == nil {
		return nil, errors.New("loader: sdk is required")
	}
	if opts.Users == nil {
		opts.Users = userstate.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{
		sdk:        opts.SDK,
		cfg:        opts.Config,
		production: opts.Production,
		users:      opts.Users,
		logger:     opts.Logger.With("component", "loader"),
	}, nil
}

func (l *Loader) loadApp(ctx context.Context) (identity.App, error) {
	if err := l.appGate.Wait(ctx); err != nil {
		return nil, err
	}
	app, err := l.sdk.InitializeApp(ctx, l.cfg)
	if err != nil {
		l.logger.Error("identity app failed to load", slog.Any("error", err))
		return nil, err
	}
	l.logger.Info("identity app loaded", "app", app.Name())
	return app, nil
}

func (l *Loader) loadAnalytics(ctx context.Context) (identity.AnalyticsModule, error) {
	if err := l.analyticsGate.Wait(ctx); err != nil {
		return nil, err
	}
	app, err := l.app.GetOrInit(ctx, l.loadApp)
	if err != nil {
		return nil, err
	}
	return l.sdk.LoadAnalytics(ctx, app)
}

// ActivateApp lets the app load proceed. Only the first call has an effect.
func (l *Loader) ActivateApp() {
	l.app.Ensure(context.Background(), l.loadApp)
	if l.appGate.Open() {
		l.logger.Debug("app activated")
	}
}

// ActivateAnalytics lets the analytics load proceed once the app has loaded.
// Only the first call has an effect.
func (l *Loader) ActivateAnalytics() {
	l.analytics.Ensure(context.Background(), l.loadAnalytics)
	if l.analyticsGate.Open() {
		l.logger.Debug("analytics activated")
	}
}

// WaitApp blocks until the app has been activated elsewhere and loaded. It
// never activates the app itself.
func (l *Loader) WaitApp(ctx context.Context) (identity.App, error) {
	return l.app.GetOrInit(ctx, l.loadApp)
}

// AuthModule activates and loads the app if needed, then returns the
// memoized auth module.
func (l *Loader) AuthModule(ctx context.Context) (identity.AuthModule, error) {
	l.ActivateApp()
	app, err := l.app.GetOrInit(ctx, l.loadApp)
	if err != nil {
		return nil, err
	}
	return l.auth.GetOrInit(ctx, func(ctx context.Context) (identity.AuthModule, error) {
		return l.sdk.LoadAuth(ctx, app)
	})
}

// AnalyticsModule activates and loads the app and analytics if needed, then
// returns the memoized analytics module.
func (l *Loader) AnalyticsModule(ctx context.Context) (identity.AnalyticsModule, error) {
	l.ActivateApp()
	l.ActivateAnalytics()
	return l.analytics.GetOrInit(ctx, l.loadAnalytics)
}

func (l *Loader) currentAuth(ctx context.Context) (identity.Auth, error) {
	mod, err := l.AuthModule(ctx)
	if err != nil {
		return nil, err
	}
	return mod.Auth(), nil
}

// GetProvider returns a fresh provider for kind.
func GetProvider(kind string) (*identity.Provider, error) {
	return identity.NewProvider(kind)
}

// GetCredential wraps token as a credential for kind.
func GetCredential(kind, token string) (identity.Credential, error) {
	return identity.NewCredential(kind, token)
}

// CurrentUser returns the signed-in user. The first call waits for the
// provider's first auth-state notification; later calls read the auth
// instance directly.
func (l *Loader) CurrentUser(ctx context.Context) (*identity.User, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}

	l.userMu.Lock()
	loaded := l.userLoaded
	l.userMu.Unlock()
	if loaded {
		return auth.CurrentUser(), nil
	}

	first := make(chan *identity.User, 1)
	unsubscribe := auth.OnAuthStateChanged(func(u *identity.User) {
		select {
		case first <- u:
		default:
		}
	})
	defer unsubscribe()

	select {
	case u := <-first:
		l.userMu.Lock()
		l.userLoaded = true
		l.userMu.Unlock()
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UserLoaded reports whether CurrentUser has observed the first auth state.
func (l *Loader) UserLoaded() bool {
	l.userMu.Lock()
	defer l.userMu.Unlock()
	return l.userLoaded
}

// Session returns the uid and token of the signed-in user. When the identity
// module has no current user the application's cached state is returned.
func (l *Loader) Session(ctx context.Context) (userstate.State, error) {
	user, err := l.CurrentUser(ctx)
	if err != nil {
		return userstate.State{}, err
	}
	if user == nil {
		return l.users.Snapshot(), nil
	}
	token, err := l.IDToken(ctx, user, false)
	if err != nil {
		return userstate.State{}, err
	}
	return userstate.State{Authenticated: true, UID: user.UID, Token: token}, nil
}

// AnalyticsLogger records an event in the background. It does nothing
// outside production; failures are logged and dropped.
func (l *Loader) AnalyticsLogger(name string, payload map[string]any) {
	if !l.production {
		return
	}
	l.events.Add(1)
	go func() {
		defer l.events.Done()
		ctx, cancel := context.WithTimeout(context.Background(), analyticsTimeout)
		defer cancel()

		mod, err := l.AnalyticsModule(ctx)
		if err == nil {
			err = mod.LogEvent(ctx, name, payload)
		}
		if err != nil {
			l.logger.Warn("analytics event dropped", "event", name, slog.Any("error", err))
		}
	}()
}

// Drain waits for in-flight analytics events.
func (l *Loader) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.events.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

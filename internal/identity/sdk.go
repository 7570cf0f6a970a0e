package identity

import (
	"context"
	"errors"
)

var (
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrUserNotFound          = errors.New("user not found")
	ErrWrongPassword         = errors.New("wrong password")
	ErrEmailInUse            = errors.New("email already in use")
	ErrWeakPassword          = errors.New("password must be at least 6 characters")
	ErrNoCurrentUser         = errors.New("no current user")
	ErrProviderAlreadyLinked = errors.New("provider already linked")
	ErrNoSuchProvider        = errors.New("provider is not linked to this user")
	ErrUnsupported           = errors.New("operation not supported")
	ErrInvalidRedirect       = errors.New("invalid or expired redirect state")
	ErrInvalidCredential     = errors.New("invalid provider credential")
)

// Config carries the provider app configuration supplied by the host
// application.
type Config struct {
	APIKey            string
	AuthDomain        string
	DatabaseURL       string
	ProjectID         string
	StorageBucket     string
	MessagingSenderID string
	AppID             string
	MeasurementID     string
}

// SDK is the client library as seen by the loader. Each method stands for
// importing one module of the library; callers are expected to memoize the
// results.
type SDK interface {
	InitializeApp(ctx context.Context, cfg Config) (App, error)
	LoadAuth(ctx context.Context, app App) (AuthModule, error)
	LoadAnalytics(ctx context.Context, app App) (AnalyticsModule, error)
}

// App is an initialised application handle.
type App interface {
	Name() string
	Options() Config
}

// AuthModule is the loaded authentication module.
type AuthModule interface {
	// Auth returns the module's current auth instance.
	Auth() Auth
}

// AnalyticsModule is the loaded analytics extension.
type AnalyticsModule interface {
	LogEvent(ctx context.Context, name string, params map[string]any) error
}

// Auth is a provider auth instance. Methods map one to one onto the
// provider's session and credential operations.
type Auth interface {
	CurrentUser() *User
	// OnAuthStateChanged registers fn for every sign-in state change. The
	// provider delivers the current state asynchronously once restoration
	// completes. The returned func unsubscribes.
	OnAuthStateChanged(fn func(*User)) (unsubscribe func())

	SignInWithEmailAndPassword(ctx context.Context, email, password string) (*UserCredential, error)
	CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (*UserCredential, error)
	SignInWithCredential(ctx context.Context, cred Credential) (*UserCredential, error)
	SignInWithPopup(ctx context.Context, provider *Provider) (*UserCredential, error)
	// SignInWithRedirect returns the URL the user agent must visit. The flow
	// completes with GetRedirectResult.
	SignInWithRedirect(ctx context.Context, provider *Provider) (string, error)
	GetRedirectResult(ctx context.Context, state, code string) (*UserCredential, error)

	SendEmailVerification(ctx context.Context, user *User) error
	UpdateProfile(ctx context.Context, user *User, profile Profile) error
	UpdateEmail(ctx context.Context, user *User, email string) error

	LinkWithCredential(ctx context.Context, user *User, cred Credential) (*UserCredential, error)
	LinkWithPopup(ctx context.Context, user *User, provider *Provider) (*UserCredential, error)
	LinkWithRedirect(ctx context.Context, user *User, provider *Provider) (string, error)
	Unlink(ctx context.Context, user *User, providerID string) (*User, error)

	SignOut(ctx context.Context) error
	IDToken(ctx context.Context, user *User, forceRefresh bool) (string, error)
}

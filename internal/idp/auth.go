package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karmaly/authloader/internal/accounts"
	"github.com/karmaly/authloader/internal/identity"
	"github.com/karmaly/authloader/internal/notification"
)

// tokens within this window of expiry are reissued by IDToken.
const refreshWindow = 5 * time.Minute

type session struct {
	user         accounts.User
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// Auth is the auth instance of one app.
type Auth struct {
	app      *App
	accounts *accounts.Service
	tokens   *accounts.Tokens
	sessions *sessionStore
	oauth    OAuthClient
	popup    Popup
	verifier Verifier
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time

	restored chan struct{}

	// sessMu serializes session changes with their persistence. It is taken
	// before mu.
	sessMu sync.Mutex

	mu        sync.Mutex
	current   *session
	listeners map[int]func(*identity.User)
	nextID    int
	redirects map[string]pendingRedirect
}

var _ identity.Auth = (*Auth)(nil)

func newAuth(app *App, opts Options) *Auth {
	return &Auth{
		app:       app,
		accounts:  opts.Accounts,
		tokens:    opts.Tokens,
		sessions:  newSessionStore(opts.Stores, app.cfg.APIKey, app.name),
		oauth:     opts.OAuth,
		popup:     opts.Popup,
		verifier:  opts.Verifier,
		notifier:  opts.Notifier,
		logger:    opts.Logger.With("component", "idp"),
		now:       time.Now,
		restored:  make(chan struct{}),
		listeners: make(map[int]func(*identity.User)),
		redirects: make(map[string]pendingRedirect),
	}
}

// restore loads the persisted session. Listeners registered before it
// finishes receive their first notification afterwards.
func (a *Auth) restore(ctx context.Context) {
	defer close(a.restored)

	persisted, err := a.sessions.load(ctx)
	if err != nil {
		a.logger.Warn("session restore failed", slog.Any("error", err))
		return
	}
	if persisted == nil || persisted.STSTokenManager.RefreshToken == "" {
		return
	}
	user, err := a.accounts.Get(ctx, persisted.UID)
	if err != nil {
		a.logger.Info("dropping persisted session", "uid", persisted.UID, slog.Any("error", err))
		if err := a.sessions.remove(ctx); err != nil {
			a.logger.Warn("session cleanup failed", slog.Any("error", err))
		}
		return
	}
	a.mu.Lock()
	a.current = &session{
		user:         user,
		idToken:      persisted.STSTokenManager.AccessToken,
		refreshToken: persisted.STSTokenManager.RefreshToken,
		expiresAt:    persisted.STSTokenManager.expiresAt(),
	}
	a.mu.Unlock()
	a.logger.Debug("session restored", "uid", user.ID)
}

// Restored is closed once the persisted session has been read.
func (a *Auth) Restored() <-chan struct{} { return a.restored }

// awaitRestore holds session changes back until restore has finished, so a
// sign-in is never overwritten by the older persisted session.
func (a *Auth) awaitRestore(ctx context.Context) error {
	select {
	case <-a.restored:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toIdentityUser(u accounts.User) *identity.User {
	out := &identity.User{
		UID:           u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}
	for _, l := range u.Links {
		out.ProviderData = append(out.ProviderData, identity.UserInfo{ProviderID: l.ProviderID, UID: l.ExternalID, Email: l.Email})
	}
	return out
}

// CurrentUser returns the signed-in user, or nil.
func (a *Auth) CurrentUser() *identity.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	return toIdentityUser(a.current.user)
}

// OnAuthStateChanged registers fn. The current state is delivered on a
// separate goroutine once restoration has finished; later changes are
// delivered synchronously by the call that caused them.
func (a *Auth) OnAuthStateChanged(fn func(*identity.User)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	go func() {
		<-a.restored
		a.mu.Lock()
		_, subscribed := a.listeners[id]
		var user *identity.User
		if a.current != nil {
			user = toIdentityUser(a.current.user)
		}
		a.mu.Unlock()
		if subscribed {
			fn(user)
		}
	}()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// setSession replaces the current session, persists it and notifies
// listeners. A nil sess signs out.
func (a *Auth) setSession(ctx context.Context, sess *session) error {
	if err := a.awaitRestore(ctx); err != nil {
		return err
	}
	a.sessMu.Lock()
	fns, err := a.swapSession(ctx, sess)
	a.sessMu.Unlock()
	if err != nil {
		return err
	}
	notify(fns, sess)
	return nil
}

// swapSession persists sess and makes it current. The caller holds sessMu.
// It returns the listeners to notify.
func (a *Auth) swapSession(ctx context.Context, sess *session) ([]func(*identity.User), error) {
	if sess == nil {
		if err := a.sessions.remove(ctx); err != nil {
			return nil, fmt.Errorf("clear session: %w", err)
		}
	} else if err := a.persist(ctx, sess); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = sess
	fns := make([]func(*identity.User), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	return fns, nil
}

func notify(fns []func(*identity.User), sess *session) {
	var user *identity.User
	if sess != nil {
		user = toIdentityUser(sess.user)
	}
	for _, fn := range fns {
		fn(user)
	}
}

func (a *Auth) persist(ctx context.Context, sess *session) error {
	err := a.sessions.save(ctx, persistedUser{
		UID:           sess.user.ID,
		Email:         sess.user.Email,
		EmailVerified: sess.user.EmailVerified,
		DisplayName:   sess.user.DisplayName,
		PhotoURL:      sess.user.PhotoURL,
		APIKey:        a.app.cfg.APIKey,
		AppName:       a.app.name,
		STSTokenManager: tokenManager{
			AccessToken:    sess.idToken,
			RefreshToken:   sess.refreshToken,
			ExpirationTime: sess.expiresAt.UnixMilli(),
		},
	})
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (a *Auth) startSession(ctx context.Context, user accounts.User, providerID string, isNew bool) (*identity.UserCredential, error) {
	token, exp, err := a.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue id token: %w", err)
	}
	sess := &session{user: user, idToken: token, refreshToken: uuid.NewString(), expiresAt: exp}
	if err := a.setSession(ctx, sess); err != nil {
		return nil, err
	}
	a.logger.Info("signed in", "uid", user.ID, "provider", providerID, "new_user", isNew)
	return &identity.UserCredential{
		User:          toIdentityUser(user),
		ProviderID:    providerID,
		OperationType: identity.OperationSignIn,
		IsNewUser:     isNew,
	}, nil
}

// refreshUser updates the current session after user changed, without
// notifying listeners.
func (a *Auth) refreshUser(ctx context.Context, user accounts.User) error {
	if err := a.awaitRestore(ctx); err != nil {
		return err
	}
	a.sessMu.Lock()
	defer a.sessMu.Unlock()

	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur == nil || cur.user.ID != user.ID {
		return nil
	}
	next := *cur
	next.user = user
	if err := a.persist(ctx, &next); err != nil {
		return err
	}
	a.mu.Lock()
	a.current = &next
	a.mu.Unlock()
	return nil
}

func (a *Auth) SignInWithEmailAndPassword(ctx context.Context, email, password string) (*identity.UserCredential, error) {
	user, err := a.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.startSession(ctx, user, identity.PasswordProviderID, false)
}

func (a *Auth) CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (*identity.UserCredential, error) {
	user, err := a.accounts.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.startSession(ctx, user, identity.PasswordProviderID, true)
}

func (a *Auth) SignInWithCredential(ctx context.Context, cred identity.Credential) (*identity.UserCredential, error) {
	profile, err := a.verifier.Verify(ctx, cred)
	if err != nil {
		return nil, err
	}
	user, created, err := a.accounts.FindOrCreateExternal(ctx, profile)
	if err != nil {
		return nil, err
	}
	return a.startSession(ctx, user, cred.ProviderID, created)
}

func (a *Auth) SignInWithPopup(ctx context.Context, provider *identity.Provider) (*identity.UserCredential, error) {
	cred, err := a.popupCredential(ctx, provider)
	if err != nil {
		return nil, err
	}
	return a.SignInWithCredential(ctx, cred)
}

func (a *Auth) SignInWithRedirect(_ context.Context, provider *identity.Provider) (string, error) {
	return a.beginRedirect(provider, "")
}

// GetRedirectResult completes a redirect started by SignInWithRedirect or
// LinkWithRedirect.
func (a *Auth) GetRedirectResult(ctx context.Context, state, code string) (*identity.UserCredential, error) {
	pending, ok := a.takeRedirect(state)
	if !ok {
		return nil, identity.ErrInvalidRedirect
	}
	cred, err := a.exchangeRedirect(ctx, pending, code)
	if err != nil {
		return nil, err
	}
	if pending.linkUserID != "" {
		return a.link(ctx, pending.linkUserID, cred)
	}
	return a.SignInWithCredential(ctx, cred)
}

func (a *Auth) SendEmailVerification(ctx context.Context, user *identity.User) error {
	if user == nil {
		return identity.ErrNoCurrentUser
	}
	updated, err := a.accounts.MarkVerificationSent(ctx, user.UID)
	if err != nil {
		return err
	}
	err = a.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindEmailVerification,
		Destination: updated.Email,
		Body:        fmt.Sprintf("Confirm your address for %s", a.app.cfg.AuthDomain),
	})
	if err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return a.refreshUser(ctx, updated)
}

func (a *Auth) UpdateProfile(ctx context.Context, user *identity.User, profile identity.Profile) error {
	if user == nil {
		return identity.ErrNoCurrentUser
	}
	updated, err := a.accounts.UpdateProfile(ctx, user.UID, profile.DisplayName, profile.PhotoURL)
	if err != nil {
		return err
	}
	return a.refreshUser(ctx, updated)
}

func (a *Auth) UpdateEmail(ctx context.Context, user *identity.User, email string) error {
	if user == nil {
		return identity.ErrNoCurrentUser
	}
	updated, err := a.accounts.UpdateEmail(ctx, user.UID, email)
	if err != nil {
		return err
	}
	return a.refreshUser(ctx, updated)
}

func (a *Auth) LinkWithCredential(ctx context.Context, user *identity.User, cred identity.Credential) (*identity.UserCredential, error) {
	if user == nil {
		return nil, identity.ErrNoCurrentUser
	}
	return a.link(ctx, user.UID, cred)
}

func (a *Auth) LinkWithPopup(ctx context.Context, user *identity.User, provider *identity.Provider) (*identity.UserCredential, error) {
	if user == nil {
		return nil, identity.ErrNoCurrentUser
	}
	cred, err := a.popupCredential(ctx, provider)
	if err != nil {
		return nil, err
	}
	return a.link(ctx, user.UID, cred)
}

func (a *Auth) LinkWithRedirect(_ context.Context, user *identity.User, provider *identity.Provider) (string, error) {
	if user == nil {
		return "", identity.ErrNoCurrentUser
	}
	return a.beginRedirect(provider, user.UID)
}

func (a *Auth) link(ctx context.Context, userID string, cred identity.Credential) (*identity.UserCredential, error) {
	profile, err := a.verifier.Verify(ctx, cred)
	if err != nil {
		return nil, err
	}
	updated, err := a.accounts.Link(ctx, userID, profile)
	if err != nil {
		return nil, err
	}
	if err := a.refreshUser(ctx, updated); err != nil {
		return nil, err
	}
	return &identity.UserCredential{
		User:          toIdentityUser(updated),
		ProviderID:    cred.ProviderID,
		OperationType: identity.OperationLink,
	}, nil
}

func (a *Auth) Unlink(ctx context.Context, user *identity.User, providerID string) (*identity.User, error) {
	if user == nil {
		return nil, identity.ErrNoCurrentUser
	}
	updated, err := a.accounts.Unlink(ctx, user.UID, providerID)
	if err != nil {
		return nil, err
	}
	if err := a.refreshUser(ctx, updated); err != nil {
		return nil, err
	}
	return toIdentityUser(updated), nil
}

func (a *Auth) SignOut(ctx context.Context) error {
	if err := a.setSession(ctx, nil); err != nil {
		return err
	}
	a.logger.Info("signed out")
	return nil
}

// IDToken returns the current ID token of user, reissuing it when forced or
// close to expiry.
func (a *Auth) IDToken(ctx context.Context, user *identity.User, forceRefresh bool) (string, error) {
	if user == nil {
		return "", identity.ErrNoCurrentUser
	}
	if err := a.awaitRestore(ctx); err != nil {
		return "", err
	}
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur == nil || cur.user.ID != user.UID {
		return "", identity.ErrNoCurrentUser
	}
	if !forceRefresh && cur.expiresAt.Sub(a.now()) > refreshWindow {
		return cur.idToken, nil
	}

	// Reissue under sessMu and only while user is still signed in; a
	// sign-out in between must not be undone.
	a.sessMu.Lock()
	a.mu.Lock()
	cur = a.current
	a.mu.Unlock()
	if cur == nil || cur.user.ID != user.UID {
		a.sessMu.Unlock()
		return "", identity.ErrNoCurrentUser
	}

	fresh, err := a.accounts.Get(ctx, cur.user.ID)
	if errors.Is(err, identity.ErrUserNotFound) {
		fns, clearErr := a.swapSession(ctx, nil)
		a.sessMu.Unlock()
		if clearErr != nil {
			a.logger.Warn("session cleanup failed", "uid", cur.user.ID, slog.Any("error", clearErr))
		} else {
			notify(fns, nil)
		}
		return "", identity.ErrNoCurrentUser
	}
	defer a.sessMu.Unlock()
	if err != nil {
		return "", err
	}
	token, exp, err := a.tokens.Issue(fresh)
	if err != nil {
		return "", fmt.Errorf("issue id token: %w", err)
	}
	next := &session{user: fresh, idToken: token, refreshToken: cur.refreshToken, expiresAt: exp}
	if err := a.persist(ctx, next); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.current = next
	a.mu.Unlock()
	return token, nil
}

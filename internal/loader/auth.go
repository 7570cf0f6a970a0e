package loader

import (
	"context"
	"log/slog"

	"github.com/karmaly/authloader/internal/identity"
)

// remember caches a successful sign-in in the application user state.
func (l *Loader) remember(ctx context.Context, auth identity.Auth, cred *identity.UserCredential) {
	if cred == nil || cred.User == nil {
		return
	}
	token, err := auth.IDToken(ctx, cred.User, false)
	if err != nil {
		l.logger.Debug("no id token for cached session", "uid", cred.User.UID, slog.Any("error", err))
	}
	l.users.Set(cred.User.UID, token)
}

func (l *Loader) signedIn(ctx context.Context, auth identity.Auth, cred *identity.UserCredential, err error) (*identity.UserCredential, error) {
	if err != nil {
		return nil, err
	}
	l.remember(ctx, auth, cred)
	return cred, nil
}

func (l *Loader) SignIn(ctx context.Context, email, password string) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	cred, err := auth.SignInWithEmailAndPassword(ctx, email, password)
	return l.signedIn(ctx, auth, cred, err)
}

func (l *Loader) SignUp(ctx context.Context, email, password string) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	cred, err := auth.CreateUserWithEmailAndPassword(ctx, email, password)
	return l.signedIn(ctx, auth, cred, err)
}

func (l *Loader) SignInWithCredential(ctx context.Context, cred identity.Credential) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	out, err := auth.SignInWithCredential(ctx, cred)
	return l.signedIn(ctx, auth, out, err)
}

func (l *Loader) SignInWithPopup(ctx context.Context, provider *identity.Provider) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	out, err := auth.SignInWithPopup(ctx, provider)
	return l.signedIn(ctx, auth, out, err)
}

// SignInWithRedirect returns the URL to send the user agent to.
func (l *Loader) SignInWithRedirect(ctx context.Context, provider *identity.Provider) (string, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return "", err
	}
	return auth.SignInWithRedirect(ctx, provider)
}

// RedirectResult completes a redirect flow.
func (l *Loader) RedirectResult(ctx context.Context, state, code string) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	out, err := auth.GetRedirectResult(ctx, state, code)
	return l.signedIn(ctx, auth, out, err)
}

func (l *Loader) SendEmailVerification(ctx context.Context, user *identity.User) error {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return err
	}
	return auth.SendEmailVerification(ctx, user)
}

func (l *Loader) UpdateProfile(ctx context.Context, user *identity.User, profile identity.Profile) error {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return err
	}
	return auth.UpdateProfile(ctx, user, profile)
}

func (l *Loader) UpdateEmail(ctx context.Context, user *identity.User, email string) error {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return err
	}
	return auth.UpdateEmail(ctx, user, email)
}

func (l *Loader) LinkWithCredential(ctx context.Context, user *identity.User, cred identity.Credential) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	return auth.LinkWithCredential(ctx, user, cred)
}

func (l *Loader) LinkWithPopup(ctx context.Context, user *identity.User, provider *identity.Provider) (*identity.UserCredential, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	return auth.LinkWithPopup(ctx, user, provider)
}

func (l *Loader) LinkWithRedirect(ctx context.Context, user *identity.User, provider *identity.Provider) (string, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return "", err
	}
	return auth.LinkWithRedirect(ctx, user, provider)
}

func (l *Loader) Unlink(ctx context.Context, user *identity.User, providerID string) (*identity.User, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	return auth.Unlink(ctx, user, providerID)
}

// OnAuthStateChanged registers fn with the auth instance.
func (l *Loader) OnAuthStateChanged(ctx context.Context, fn func(*identity.User)) (func(), error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return nil, err
	}
	return auth.OnAuthStateChanged(fn), nil
}

func (l *Loader) SignOut(ctx context.Context) error {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return err
	}
	if err := auth.SignOut(ctx); err != nil {
		return err
	}
	l.users.Clear()
	return nil
}

func (l *Loader) IDToken(ctx context.Context, user *identity.User, forceRefresh bool) (string, error) {
	auth, err := l.currentAuth(ctx)
	if err != nil {
		return "", err
	}
	return auth.IDToken(ctx, user, forceRefresh)
}

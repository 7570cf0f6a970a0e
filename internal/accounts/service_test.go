package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/karmaly/authloader/internal/identity"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, " Ada@Example.com ", "hunter22")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if _, ok := user.LinkFor(identity.PasswordProviderID); !ok {
		t.Fatalf("expected password link")
	}

	authed, err := svc.Authenticate(ctx, "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, authed.ID)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.c", "123"); !errors.Is(err, identity.ErrWeakPassword) {
		t.Fatalf("expected weak password error, got %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.c", "123456"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "A@B.C", "123456"); !errors.Is(err, identity.ErrEmailInUse) {
		t.Fatalf("expected email in use, got %v", err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@b.c", "123456"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "a@b.c", "654321"); !errors.Is(err, identity.ErrWrongPassword) {
		t.Fatalf("expected wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@b.c", "654321"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestExternalSignInLinkAndUnlink(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	gh := ExternalProfile{ProviderID: identity.GitHubProviderID, ExternalID: "42", Email: "octo@example.com", DisplayName: "Octo"}
	user, created, err := svc.FindOrCreateExternal(ctx, gh)
	if err != nil {
		t.Fatalf("first external sign-in: %v", err)
	}
	if !created {
		t.Fatalf("expected a new account")
	}
	again, created, err := svc.FindOrCreateExternal(ctx, gh)
	if err != nil || created || again.ID != user.ID {
		t.Fatalf("expected same account, got %v created=%v err=%v", again.ID, created, err)
	}

	google := ExternalProfile{ProviderID: identity.GoogleProviderID, ExternalID: "g-1"}
	linked, err := svc.Link(ctx, user.ID, google)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if len(linked.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(linked.Links))
	}
	if _, err := svc.Link(ctx, user.ID, google); !errors.Is(err, identity.ErrProviderAlreadyLinked) {
		t.Fatalf("expected already linked, got %v", err)
	}

	unlinked, err := svc.Unlink(ctx, user.ID, identity.GoogleProviderID)
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if _, ok := unlinked.LinkFor(identity.GoogleProviderID); ok {
		t.Fatalf("expected google to be unlinked")
	}
	if _, err := svc.Unlink(ctx, user.ID, identity.GoogleProviderID); !errors.Is(err, identity.ErrNoSuchProvider) {
		t.Fatalf("expected no such provider, got %v", err)
	}
}

func TestExternalSignInRefusesTakenEmail(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	if _, err := svc.Register(ctx, "octo@example.com", "123456"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, err := svc.FindOrCreateExternal(ctx, ExternalProfile{ProviderID: identity.GitHubProviderID, ExternalID: "42", Email: "octo@example.com"})
	if !errors.Is(err, identity.ErrEmailInUse) {
		t.Fatalf("expected email in use, got %v", err)
	}
}

func TestUpdateEmailResetsVerification(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	user, err := svc.Register(ctx, "a@b.c", "123456")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.MarkVerificationSent(ctx, user.ID); err != nil {
		t.Fatalf("mark verification: %v", err)
	}
	name := "Ada"
	if _, err := svc.UpdateProfile(ctx, user.ID, &name, nil); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	updated, err := svc.UpdateEmail(ctx, user.ID, "new@b.c")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if updated.EmailVerified || updated.DisplayName != "Ada" || updated.VerificationSentAt.IsZero() {
		t.Fatalf("unexpected user after update: %+v", updated)
	}
	if _, err := svc.Authenticate(ctx, "new@b.c", "123456"); err != nil {
		t.Fatalf("authenticate with new email: %v", err)
	}
}

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("secret", time.Minute, "karmaly")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	token, exp, err := tokens.Issue(User{ID: "u-1", Email: "a@b.c"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry")
	}
	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "a@b.c" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	other, _ := NewTokens("other", time.Minute, "karmaly")
	if _, err := other.Parse(token); err == nil {
		t.Fatalf("expected signature mismatch")
	}

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tokens.Parse(token); err == nil {
		t.Fatalf("expected expired token")
	}
}

func TestTokensRejectForeignAudience(t *testing.T) {
	tokens, err := NewTokens("secret", time.Minute, "karmaly")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	now := time.Now()
	for _, aud := range []jwt.ClaimStrings{{"elsewhere"}, nil} {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "karmaly",
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := tokens.Parse(signed); err == nil {
			t.Fatalf("expected audience %v to be rejected", aud)
		}
	}
}

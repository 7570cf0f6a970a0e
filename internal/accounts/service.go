package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/karmaly/authloader/internal/identity"
)

const minPasswordLength = 6

// Service manages the account lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new account service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a password account.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, errors.New("email is required")
	}
	if len(password) < minPasswordLength {
		return User{}, identity.ErrWeakPassword
	}
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return User{}, identity.ErrEmailInUse
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	now := s.now()
	user := User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Links:        []Link{{ProviderID: identity.PasswordProviderID, ExternalID: email, Email: email}},
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies a password sign-in.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return User{}, err
	}
	if len(user.PasswordHash) == 0 {
		return User{}, identity.ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, identity.ErrWrongPassword
	}
	return s.touch(ctx, user)
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindOrCreateExternal signs in a federated identity, creating an account on
// first use. The bool reports whether the account is new.
func (s *Service) FindOrCreateExternal(ctx context.Context, profile ExternalProfile) (User, bool, error) {
	user, err := s.repo.FindByLink(ctx, profile.ProviderID, profile.ExternalID)
	if err == nil {
		user, err = s.touch(ctx, user)
		return user, false, err
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return User{}, false, err
	}

	email := normalizeEmail(profile.Email)
	if email != "" {
		if _, err := s.repo.FindByEmail(ctx, email); err == nil {
			// the address belongs to another account; the user has to link
			// explicitly from that account instead
			return User{}, false, fmt.Errorf("%w: %s", identity.ErrEmailInUse, email)
		}
	}

	now := s.now()
	user = User{
		ID:            uuid.New().String(),
		Email:         email,
		EmailVerified: profile.EmailVerified,
		DisplayName:   profile.DisplayName,
		PhotoURL:      profile.PhotoURL,
		Links:         []Link{{ProviderID: profile.ProviderID, ExternalID: profile.ExternalID, Email: email}},
		CreatedAt:     now,
		LastLogin:     now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// Link attaches a federated identity to an existing account.
func (s *Service) Link(ctx context.Context, userID string, profile ExternalProfile) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if _, ok := user.LinkFor(profile.ProviderID); ok {
		return User{}, identity.ErrProviderAlreadyLinked
	}
	if owner, err := s.repo.FindByLink(ctx, profile.ProviderID, profile.ExternalID); err == nil && owner.ID != user.ID {
		return User{}, identity.ErrProviderAlreadyLinked
	}
	user.Links = append(user.Links, Link{ProviderID: profile.ProviderID, ExternalID: profile.ExternalID, Email: normalizeEmail(profile.Email)})
	if user.DisplayName == "" {
		user.DisplayName = profile.DisplayName
	}
	if user.PhotoURL == "" {
		user.PhotoURL = profile.PhotoURL
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Unlink detaches providerID from the account.
func (s *Service) Unlink(ctx context.Context, userID, providerID string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	kept := user.Links[:0]
	found := false
	for _, l := range user.Links {
		if l.ProviderID == providerID {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return User{}, identity.ErrNoSuchProvider
	}
	user.Links = kept
	if providerID == identity.PasswordProviderID {
		user.PasswordHash = nil
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateProfile changes the display attributes that are set.
func (s *Service) UpdateProfile(ctx context.Context, userID string, displayName, photoURL *string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if displayName != nil {
		user.DisplayName = *displayName
	}
	if photoURL != nil {
		user.PhotoURL = *photoURL
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateEmail changes the account email and clears its verified flag.
func (s *Service) UpdateEmail(ctx context.Context, userID, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, errors.New("email is required")
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if owner, err := s.repo.FindByEmail(ctx, email); err == nil && owner.ID != user.ID {
		return User{}, identity.ErrEmailInUse
	}
	user.Email = email
	user.EmailVerified = false
	for i, l := range user.Links {
		if l.ProviderID == identity.PasswordProviderID {
			user.Links[i].ExternalID = email
			user.Links[i].Email = email
		}
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// MarkVerificationSent records that a verification email went out.
func (s *Service) MarkVerificationSent(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Email == "" {
		return User{}, errors.New("account has no email address")
	}
	user.VerificationSentAt = s.now()
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) touch(ctx context.Context, user User) (User, error) {
	user.LastLogin = s.now()
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

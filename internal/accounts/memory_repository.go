package accounts

import (
	"context"
	"sync"

	"github.com/karmaly/authloader/internal/identity"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory account store.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.Email != "" {
		for _, existing := range r.users {
			if existing.Email == user.Email {
				return identity.ErrEmailInUse
			}
		}
	}
	r.users[user.ID] = clone(user)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, identity.ErrUserNotFound
	}
	return clone(user), nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if email != "" && user.Email == email {
			return clone(user), nil
		}
	}
	return User{}, identity.ErrUserNotFound
}

func (r *memoryRepository) FindByLink(_ context.Context, providerID, externalID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		for _, l := range user.Links {
			if l.ProviderID == providerID && l.ExternalID == externalID {
				return clone(user), nil
			}
		}
	}
	return User{}, identity.ErrUserNotFound
}

func (r *memoryRepository) Update(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return identity.ErrUserNotFound
	}
	if user.Email != "" {
		for id, existing := range r.users {
			if id != user.ID && existing.Email == user.Email {
				return identity.ErrEmailInUse
			}
		}
	}
	r.users[user.ID] = clone(user)
	return nil
}

func clone(user User) User {
	user.Links = append([]Link(nil), user.Links...)
	user.PasswordHash = append([]byte(nil), user.PasswordHash...)
	return user
}

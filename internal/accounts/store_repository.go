package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/karmaly/authloader/internal/identity"
	"github.com/karmaly/authloader/internal/localstore"
)

const (
	accountsStoreName    = "karmalyAccounts"
	accountsCollection   = "accounts"
	accountsStoreVersion = 1
)

type storedUser struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	EmailVerified      bool      `json:"email_verified"`
	DisplayName        string    `json:"display_name,omitempty"`
	PhotoURL           string    `json:"photo_url,omitempty"`
	PasswordHash       []byte    `json:"password_hash,omitempty"`
	Links              []Link    `json:"links"`
	VerificationSentAt time.Time `json:"verification_sent_at,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	LastLogin          time.Time `json:"last_login,omitempty"`
}

func (s storedUser) user() User {
	return User(s)
}

// StoreRepository keeps accounts in a local store, so the bundled backend
// persists on whichever driver the local stores use.
type StoreRepository struct {
	stores *localstore.Factory
	// serializes read-check-write sequences
	mu sync.Mutex
}

// NewStoreRepository builds a repository over stores.
func NewStoreRepository(stores *localstore.Factory) *StoreRepository {
	return &StoreRepository{stores: stores}
}

func (r *StoreRepository) tx(ctx context.Context, mode localstore.Mode, fn func(*localstore.Tx) error) error {
	db, err := r.stores.Open(ctx, accountsStoreName, accountsStoreVersion, localstore.Hooks{
		OnUpgradeNeeded: func(ctx context.Context, up *localstore.Upgrade) error {
			has, err := up.HasCollection(ctx, accountsCollection)
			if err != nil || has {
				return err
			}
			return up.CreateCollection(ctx, accountsCollection)
		},
	})
	if err != nil {
		return fmt.Errorf("open accounts store: %w", err)
	}
	defer db.Close()
	tx, err := db.Transaction(ctx, accountsCollection, mode)
	if err != nil {
		return err
	}
	return fn(tx)
}

func (r *StoreRepository) all(ctx context.Context, tx *localstore.Tx) ([]User, error) {
	records, err := tx.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(records))
	for _, rec := range records {
		var s storedUser
		if err := json.Unmarshal(rec.Value, &s); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", rec.Key, err)
		}
		users = append(users, s.user())
	}
	return users, nil
}

func (r *StoreRepository) find(ctx context.Context, match func(User) bool) (User, error) {
	var found *User
	err := r.tx(ctx, localstore.ReadOnly, func(tx *localstore.Tx) error {
		users, err := r.all(ctx, tx)
		if err != nil {
			return err
		}
		for i := range users {
			if match(users[i]) {
				found = &users[i]
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	if found == nil {
		return User{}, identity.ErrUserNotFound
	}
	return *found, nil
}

func (r *StoreRepository) write(ctx context.Context, user User, mustExist bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx(ctx, localstore.ReadWrite, func(tx *localstore.Tx) error {
		users, err := r.all(ctx, tx)
		if err != nil {
			return err
		}
		exists := false
		for _, u := range users {
			if u.ID == user.ID {
				exists = true
				continue
			}
			if user.Email != "" && u.Email == user.Email {
				return identity.ErrEmailInUse
			}
		}
		if mustExist && !exists {
			return identity.ErrUserNotFound
		}
		return tx.Put(ctx, user.ID, storedUser(user))
	})
}

func (r *StoreRepository) Create(ctx context.Context, user User) error {
	return r.write(ctx, user, false)
}

func (r *StoreRepository) FindByID(ctx context.Context, id string) (User, error) {
	var out *User
	err := r.tx(ctx, localstore.ReadOnly, func(tx *localstore.Tx) error {
		raw, ok, err := tx.Get(ctx, id)
		if err != nil || !ok {
			return err
		}
		var s storedUser
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode account %s: %w", id, err)
		}
		u := s.user()
		out = &u
		return nil
	})
	if err != nil {
		return User{}, err
	}
	if out == nil {
		return User{}, identity.ErrUserNotFound
	}
	return *out, nil
}

func (r *StoreRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	if email == "" {
		return User{}, identity.ErrUserNotFound
	}
	return r.find(ctx, func(u User) bool { return u.Email == email })
}

func (r *StoreRepository) FindByLink(ctx context.Context, providerID, externalID string) (User, error) {
	return r.find(ctx, func(u User) bool {
		for _, l := range u.Links {
			if l.ProviderID == providerID && l.ExternalID == externalID {
				return true
			}
		}
		return false
	})
}

func (r *StoreRepository) Update(ctx context.Context, user User) error {
	return r.write(ctx, user, true)
}

package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/karmaly/authloader/internal/localstore"
)

const (
	sessionStoreName    = "identityLocalStorageDb"
	sessionCollection   = "identityLocalStorage"
	sessionStoreVersion = 1
	authUserPrefix      = "identity:authUser:"
)

// persistedUser is the record written for the signed-in user.
type persistedUser struct {
	UID             string       `json:"uid"`
	Email           string       `json:"email,omitempty"`
	EmailVerified   bool         `json:"emailVerified"`
	DisplayName     string       `json:"displayName,omitempty"`
	PhotoURL        string       `json:"photoURL,omitempty"`
	APIKey          string       `json:"apiKey"`
	AppName         string       `json:"appName"`
	STSTokenManager tokenManager `json:"stsTokenManager"`
}

type tokenManager struct {
	AccessToken    string `json:"accessToken"`
	RefreshToken   string `json:"refreshToken"`
	ExpirationTime int64  `json:"expirationTime"`
}

func (t tokenManager) expiresAt() time.Time {
	return time.UnixMilli(t.ExpirationTime)
}

// sessionStore persists one app's signed-in user.
type sessionStore struct {
	stores *localstore.Factory
	key    string
}

func newSessionStore(stores *localstore.Factory, apiKey, appName string) *sessionStore {
	return &sessionStore{stores: stores, key: authUserPrefix + apiKey + ":" + appName}
}

func (s *sessionStore) open(ctx context.Context) (*localstore.DB, error) {
	return s.stores.Open(ctx, sessionStoreName, sessionStoreVersion, localstore.Hooks{
		OnUpgradeNeeded: func(ctx context.Context, up *localstore.Upgrade) error {
			has, err := up.HasCollection(ctx, sessionCollection)
			if err != nil || has {
				return err
			}
			return up.CreateCollection(ctx, sessionCollection)
		},
	})
}

func (s *sessionStore) tx(ctx context.Context, mode localstore.Mode, fn func(*localstore.Tx) error) error {
	db, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer db.Close()
	tx, err := db.Transaction(ctx, sessionCollection, mode)
	if err != nil {
		return err
	}
	return fn(tx)
}

// load returns the persisted user, or nil when nobody is signed in.
func (s *sessionStore) load(ctx context.Context) (*persistedUser, error) {
	var out *persistedUser
	err := s.tx(ctx, localstore.ReadOnly, func(tx *localstore.Tx) error {
		raw, ok, err := tx.Get(ctx, s.key)
		if err != nil || !ok {
			return err
		}
		var user persistedUser
		if err := json.Unmarshal(raw, &user); err != nil {
			return fmt.Errorf("decode persisted session: %w", err)
		}
		out = &user
		return nil
	})
	return out, err
}

func (s *sessionStore) save(ctx context.Context, user persistedUser) error {
	return s.tx(ctx, localstore.ReadWrite, func(tx *localstore.Tx) error {
		return tx.Put(ctx, s.key, user)
	})
}

func (s *sessionStore) remove(ctx context.Context) error {
	return s.tx(ctx, localstore.ReadWrite, func(tx *localstore.Tx) error {
		return tx.Delete(ctx, s.key)
	})
}

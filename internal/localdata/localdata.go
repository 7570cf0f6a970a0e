package localdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/karmaly/authloader/internal/localstore"
)

const (
	// SchemaVersion is the version both local stores are opened at.
	SchemaVersion = 1

	// IdentityStoreName is the store owned by the identity SDK.
	IdentityStoreName = "identityLocalStorageDb"
	// IdentityCollection holds the SDK's persisted sessions.
	IdentityCollection = "identityLocalStorage"
	// AuthUserMarker appears in the key of every persisted signed-in user.
	AuthUserMarker = "identity:authUser"

	// AppStoreName is the application's own store.
	AppStoreName = "karmalyLocal"
	// UserInfoCollection holds the application's cached user data.
	UserInfoCollection = "userInfo"
	// KarmaKey is the entry the cached score lives under.
	KarmaKey = "karma"
)

// Creds is the session persisted by the identity SDK.
type Creds struct {
	Token string `json:"token"`
	UID   string `json:"uid"`
}

// persistedUser is the subset of the SDK's persisted user record we read.
type persistedUser struct {
	UID             string `json:"uid"`
	STSTokenManager struct {
		AccessToken string `json:"accessToken"`
	} `json:"stsTokenManager"`
}

// Accessor reads and writes the two local stores.
type Accessor struct {
	stores *localstore.Factory
	logger *slog.Logger
}

// New builds an Accessor over stores.
func New(stores *localstore.Factory, logger *slog.Logger) *Accessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessor{stores: stores, logger: logger}
}

// OpenStore opens name at SchemaVersion.
func (a *Accessor) OpenStore(ctx context.Context, name string, hooks localstore.Hooks) (*localstore.DB, error) {
	return a.stores.Open(ctx, name, SchemaVersion, hooks)
}

// ensureCollection returns hooks creating collection on first open.
func ensureCollection(collection string) localstore.Hooks {
	return localstore.Hooks{OnUpgradeNeeded: func(ctx context.Context, up *localstore.Upgrade) error {
		has, err := up.HasCollection(ctx, collection)
		if err != nil || has {
			return err
		}
		return up.CreateCollection(ctx, collection)
	}}
}

// ReadCreds returns the token and uid of the first persisted signed-in user,
// or empty strings when there is none. Failures come back as *StoreError.
func (a *Accessor) ReadCreds(ctx context.Context) (creds Creds, err error) {
	defer func() {
		if r := recover(); r != nil {
			creds, err = Creds{}, normalize(r)
		}
	}()
	creds, err = a.readCreds(ctx)
	if err != nil {
		a.logger.Warn("read creds failed", slog.Any("error", err))
		return Creds{}, normalize(err)
	}
	return creds, nil
}

func (a *Accessor) readCreds(ctx context.Context) (Creds, error) {
	db, err := a.OpenStore(ctx, IdentityStoreName, ensureCollection(IdentityCollection))
	if err != nil {
		return Creds{}, err
	}
	defer db.Close()

	tx, err := db.Transaction(ctx, IdentityCollection, localstore.ReadOnly)
	if err != nil {
		return Creds{}, err
	}
	records, err := tx.GetAll(ctx)
	if err != nil {
		return Creds{}, err
	}
	for _, rec := range records {
		if !strings.Contains(rec.Key, AuthUserMarker) {
			continue
		}
		var user persistedUser
		if err := json.Unmarshal(rec.Value, &user); err != nil {
			return Creds{}, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		return Creds{Token: user.STSTokenManager.AccessToken, UID: user.UID}, nil
	}
	return Creds{}, nil
}

// StoreKarma upserts the cached score.
func (a *Accessor) StoreKarma(ctx context.Context, value int) error {
	db, err := a.OpenStore(ctx, AppStoreName, ensureCollection(UserInfoCollection))
	if err != nil {
		return fmt.Errorf("open %s: %w", AppStoreName, err)
	}
	defer db.Close()

	tx, err := db.Transaction(ctx, UserInfoCollection, localstore.ReadWrite)
	if err != nil {
		return err
	}
	if err := tx.Put(ctx, KarmaKey, value); err != nil {
		return fmt.Errorf("store karma: %w", err)
	}
	return nil
}

// ReadKarma returns the cached score, 0 when none is stored.
func (a *Accessor) ReadKarma(ctx context.Context) (int, error) {
	db, err := a.OpenStore(ctx, AppStoreName, ensureCollection(UserInfoCollection))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", AppStoreName, err)
	}
	defer db.Close()

	tx, err := db.Transaction(ctx, UserInfoCollection, localstore.ReadOnly)
	if err != nil {
		return 0, err
	}
	raw, ok, err := tx.Get(ctx, KarmaKey)
	if err != nil {
		return 0, fmt.Errorf("read karma: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var karma any
	if err := json.Unmarshal(raw, &karma); err != nil {
		return 0, fmt.Errorf("decode karma: %w", err)
	}
	switch v := karma.(type) {
	case float64:
		return int(v), nil
	case nil:
		return 0, nil
	case bool:
		if !v {
			return 0, nil
		}
	case string:
		if v == "" {
			return 0, nil
		}
	}
	return 0, fmt.Errorf("decode karma: unexpected value %s", raw)
}

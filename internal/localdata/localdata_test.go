package localdata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karmaly/authloader/internal/localstore"
	"github.com/karmaly/authloader/internal/logging"
)

func newAccessor(driver localstore.Driver) (*Accessor, *localstore.Factory) {
	stores := localstore.NewFactory(driver, logging.Discard())
	return New(stores, logging.Discard()), stores
}

func seedIdentity(t *testing.T, stores *localstore.Factory, records map[string]any) {
	t.Helper()
	ctx := context.Background()
	db, err := stores.Open(ctx, IdentityStoreName, SchemaVersion, ensureCollection(IdentityCollection))
	require.NoError(t, err)
	defer db.Close()
	tx, err := db.Transaction(ctx, IdentityCollection, localstore.ReadWrite)
	require.NoError(t, err)
	for key, value := range records {
		require.NoError(t, tx.Put(ctx, key, value))
	}
}

func TestReadKarmaDefaultsToZero(t *testing.T) {
	a, _ := newAccessor(localstore.NewMemoryDriver())
	karma, err := a.ReadKarma(context.Background())
	require.NoError(t, err)
	assert.Zero(t, karma)
}

func TestStoreThenReadKarma(t *testing.T) {
	a, _ := newAccessor(localstore.NewMemoryDriver())
	ctx := context.Background()

	for _, v := range []int{7, 0, 1200, -3, 42} {
		require.NoError(t, a.StoreKarma(ctx, v))
		got, err := a.ReadKarma(ctx)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestReadKarmaTreatsNullAsZero(t *testing.T) {
	a, stores := newAccessor(localstore.NewMemoryDriver())
	ctx := context.Background()
	db, err := stores.Open(ctx, AppStoreName, SchemaVersion, ensureCollection(UserInfoCollection))
	require.NoError(t, err)
	tx, err := db.Transaction(ctx, UserInfoCollection, localstore.ReadWrite)
	require.NoError(t, err)
	for _, falsy := range []any{nil, false, ""} {
		require.NoError(t, tx.Put(ctx, KarmaKey, falsy))
		karma, err := a.ReadKarma(ctx)
		require.NoError(t, err)
		assert.Zero(t, karma)
	}
	db.Close()
}

func TestReadKarmaReportsCorruptValue(t *testing.T) {
	a, stores := newAccessor(localstore.NewMemoryDriver())
	ctx := context.Background()
	db, err := stores.Open(ctx, AppStoreName, SchemaVersion, ensureCollection(UserInfoCollection))
	require.NoError(t, err)
	tx, err := db.Transaction(ctx, UserInfoCollection, localstore.ReadWrite)
	require.NoError(t, err)
	for _, corrupt := range []any{"lots", true, map[string]int{"karma": 1}} {
		require.NoError(t, tx.Put(ctx, KarmaKey, corrupt))
		_, err = a.ReadKarma(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode karma")
	}
	db.Close()
}

func TestReadCredsEmptyStore(t *testing.T) {
	a, _ := newAccessor(localstore.NewMemoryDriver())
	creds, err := a.ReadCreds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Creds{Token: "", UID: ""}, creds)
}

func TestReadCredsPicksMarkedRecord(t *testing.T) {
	a, stores := newAccessor(localstore.NewMemoryDriver())
	seedIdentity(t, stores, map[string]any{
		"identity:heartbeat": map[string]any{"uid": "nope", "stsTokenManager": map[string]any{"accessToken": "nope"}},
		AuthUserMarker + ":api-key:[DEFAULT]": map[string]any{
			"uid":             "user-1",
			"stsTokenManager": map[string]any{"accessToken": "token-1", "refreshToken": "r"},
		},
	})

	creds, err := a.ReadCreds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Creds{Token: "token-1", UID: "user-1"}, creds)
}

func TestReadCredsIgnoresUnmarkedRecords(t *testing.T) {
	a, stores := newAccessor(localstore.NewMemoryDriver())
	seedIdentity(t, stores, map[string]any{
		"something-else": map[string]any{"uid": "x"},
	})
	creds, err := a.ReadCreds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Creds{}, creds)
}

type failingDriver struct {
	localstore.Driver
	fail any
}

func (d failingDriver) GetAll(context.Context, string, string) ([]localstore.Record, error) {
	if err, ok := d.fail.(error); ok {
		return nil, err
	}
	panic(d.fail)
}

func TestReadCredsNormalizesErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	a, _ := newAccessor(failingDriver{Driver: localstore.NewMemoryDriver(), fail: boom})

	_, err := a.ReadCreds(context.Background())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "disk on fire", storeErr.Message)
	assert.ErrorIs(t, err, boom)
}

func TestReadCredsSerializesNonErrorFailures(t *testing.T) {
	a, _ := newAccessor(failingDriver{Driver: localstore.NewMemoryDriver(), fail: map[string]string{"name": "QuotaExceeded"}})

	_, err := a.ReadCreds(context.Background())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.JSONEq(t, `{"name":"QuotaExceeded"}`, storeErr.Message)
}

func TestReadCredsVersionConflictIsNormalized(t *testing.T) {
	a, stores := newAccessor(localstore.NewMemoryDriver())
	db, err := stores.Open(context.Background(), IdentityStoreName, 2, localstore.Hooks{})
	require.NoError(t, err)
	db.Close()

	_, err = a.ReadCreds(context.Background())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, localstore.ErrVersion)
}

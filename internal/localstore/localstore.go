package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a transaction names a collection the store
	// does not have.
	ErrNotFound = errors.New("collection not found")
	// ErrReadOnly is returned when writing through a read-only transaction.
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrClosed is returned when using a handle after Close or termination.
	ErrClosed = errors.New("store connection is closed")
	// ErrVersion is returned when opening a store with an older version than
	// the one persisted.
	ErrVersion = errors.New("requested version is lower than the stored version")
)

// Record is one key/value entry of a collection.
type Record struct {
	Key   string
	Value json.RawMessage
}

// Mode selects what a transaction is allowed to do.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Driver is the persistence backend behind a Factory. Implementations must be
// safe for concurrent use; each call is expected to be atomic on its own.
type Driver interface {
	Version(ctx context.Context, store string) (int, error)
	SetVersion(ctx context.Context, store string, version int) error
	Collections(ctx context.Context, store string) ([]string, error)
	CreateCollection(ctx context.Context, store, collection string) error
	Get(ctx context.Context, store, collection, key string) ([]byte, bool, error)
	GetAll(ctx context.Context, store, collection string) ([]Record, error)
	Put(ctx context.Context, store, collection, key string, value []byte) error
	Delete(ctx context.Context, store, collection, key string) error
	Clear(ctx context.Context, store, collection string) error
}

// Hooks are the lifecycle callbacks of a store connection.
type Hooks struct {
	// OnUpgradeNeeded runs when the persisted version is lower than the
	// requested one, including the very first open. It is where collections
	// are created.
	OnUpgradeNeeded func(ctx context.Context, up *Upgrade) error
	// OnBlocked fires on the opener when an upgrade has to wait for other
	// connections to the same store to close.
	OnBlocked func()
	// OnBlockingOthers fires on an open connection when another opener wants
	// to upgrade the store. The connection should close itself.
	OnBlockingOthers func()
	// OnTerminated fires when the connection is closed by the factory rather
	// than by its owner.
	OnTerminated func()
}

// Upgrade is handed to OnUpgradeNeeded.
type Upgrade struct {
	OldVersion int
	NewVersion int

	store  string
	driver Driver
}

// CreateCollection adds a collection to the store being upgraded.
func (u *Upgrade) CreateCollection(ctx context.Context, name string) error {
	if err := u.driver.CreateCollection(ctx, u.store, name); err != nil {
		return fmt.Errorf("create collection %s/%s: %w", u.store, name, err)
	}
	return nil
}

// HasCollection reports whether the store already has the collection.
func (u *Upgrade) HasCollection(ctx context.Context, name string) (bool, error) {
	names, err := u.driver.Collections(ctx, u.store)
	if err != nil {
		return false, err
	}
	return contains(names, name), nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

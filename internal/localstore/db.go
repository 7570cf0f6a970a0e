package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DB is an open connection to one named store.
type DB struct {
	factory *Factory
	name    string
	version int
	hooks   Hooks

	mu     sync.Mutex
	closed bool
}

func (d *DB) Name() string { return d.name }

func (d *DB) Version() int { return d.version }

// Transaction opens a scope over collection.
func (d *DB) Transaction(ctx context.Context, collection string, mode Mode) (*Tx, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	names, err := d.factory.driver.Collections(ctx, d.name)
	if err != nil {
		return nil, fmt.Errorf("list collections of %s: %w", d.name, err)
	}
	if !contains(names, collection) {
		return nil, fmt.Errorf("%s/%s: %w", d.name, collection, ErrNotFound)
	}
	return &Tx{db: d, collection: collection, mode: mode}, nil
}

// Close releases the connection. It is safe to call more than once.
func (d *DB) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.factory.untrack(d)
}

func (d *DB) terminate() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.factory.untrack(d)
	if d.hooks.OnTerminated != nil {
		d.hooks.OnTerminated()
	}
}

func (d *DB) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Tx is a transaction scope over one collection.
type Tx struct {
	db         *DB
	collection string
	mode       Mode
}

func (t *Tx) Mode() Mode { return t.mode }

func (t *Tx) check(write bool) error {
	if t.db.isClosed() {
		return ErrClosed
	}
	if write && t.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// Get returns the raw JSON stored under key.
func (t *Tx) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	value, ok, err := t.db.factory.driver.Get(ctx, t.db.name, t.collection, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return json.RawMessage(value), true, nil
}

// GetAll returns every record of the collection ordered by key.
func (t *Tx) GetAll(ctx context.Context) ([]Record, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.db.factory.driver.GetAll(ctx, t.db.name, t.collection)
}

// Put stores value as JSON under key, replacing any existing entry.
func (t *Tx) Put(ctx context.Context, key string, value any) error {
	if err := t.check(true); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s/%s: %w", t.db.name, t.collection, key, err)
	}
	return t.db.factory.driver.Put(ctx, t.db.name, t.collection, key, data)
}

// Delete removes key. Missing keys are not an error.
func (t *Tx) Delete(ctx context.Context, key string) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.db.factory.driver.Delete(ctx, t.db.name, t.collection, key)
}

// Clear removes every record of the collection.
func (t *Tx) Clear(ctx context.Context) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.db.factory.driver.Clear(ctx, t.db.name, t.collection)
}

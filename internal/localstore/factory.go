package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory opens versioned store connections on top of a Driver and tracks
// them so upgrades can coordinate with existing connections.
type Factory struct {
	driver Driver
	logger *slog.Logger

	openMu   sync.Mutex
	mu       sync.Mutex
	conns    map[string]map[*DB]struct{}
	released chan struct{}
}

// NewFactory builds a Factory over driver.
func NewFactory(driver Driver, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		driver:   driver,
		logger:   logger,
		conns:    make(map[string]map[*DB]struct{}),
		released: make(chan struct{}),
	}
}

// Open connects to the named store at version, running hooks.OnUpgradeNeeded
// when the persisted version is lower.
func (f *Factory) Open(ctx context.Context, name string, version int, hooks Hooks) (*DB, error) {
	if version < 1 {
		return nil, fmt.Errorf("open %s: version must be positive, got %d", name, version)
	}
	f.openMu.Lock()
	defer f.openMu.Unlock()

	current, err := f.driver.Version(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read version of %s: %w", name, err)
	}
	if version < current {
		return nil, fmt.Errorf("open %s at version %d (stored %d): %w", name, version, current, ErrVersion)
	}
	if version > current {
		if err := f.waitForOthers(ctx, name, hooks); err != nil {
			return nil, err
		}
		if hooks.OnUpgradeNeeded != nil {
			up := &Upgrade{OldVersion: current, NewVersion: version, store: name, driver: f.driver}
			if err := hooks.OnUpgradeNeeded(ctx, up); err != nil {
				return nil, fmt.Errorf("upgrade %s to version %d: %w", name, version, err)
			}
		}
		if err := f.driver.SetVersion(ctx, name, version); err != nil {
			return nil, fmt.Errorf("set version of %s: %w", name, err)
		}
		f.logger.Debug("local store upgraded", "store", name, "from", current, "to", version)
	}

	db := &DB{factory: f, name: name, version: version, hooks: hooks}
	f.track(db)
	return db, nil
}

func (f *Factory) waitForOthers(ctx context.Context, name string, hooks Hooks) error {
	others := f.openConns(name)
	if len(others) == 0 {
		return nil
	}
	for _, other := range others {
		if other.hooks.OnBlockingOthers != nil {
			other.hooks.OnBlockingOthers()
		}
	}

	blockedFired := false
	for {
		f.mu.Lock()
		remaining := len(f.conns[name])
		released := f.released
		f.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		if !blockedFired {
			blockedFired = true
			f.logger.Warn("local store upgrade blocked", "store", name, "open_connections", remaining)
			if hooks.OnBlocked != nil {
				hooks.OnBlocked()
			}
		}
		select {
		case <-released:
		case <-ctx.Done():
			return fmt.Errorf("open %s: waiting for blocking connections: %w", name, ctx.Err())
		}
	}
}

func (f *Factory) openConns(name string) []*DB {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*DB, 0, len(f.conns[name]))
	for db := range f.conns[name] {
		out = append(out, db)
	}
	return out
}

func (f *Factory) track(db *DB) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.conns[db.name]
	if !ok {
		set = make(map[*DB]struct{})
		f.conns[db.name] = set
	}
	set[db] = struct{}{}
}

func (f *Factory) untrack(db *DB) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.conns[db.name]
	if _, ok := set[db]; !ok {
		return
	}
	delete(set, db)
	if len(set) == 0 {
		delete(f.conns, db.name)
	}
	close(f.released)
	f.released = make(chan struct{})
}

// Close terminates every connection still open.
func (f *Factory) Close() {
	f.mu.Lock()
	var open []*DB
	for _, set := range f.conns {
		for db := range set {
			open = append(open, db)
		}
	}
	f.mu.Unlock()

	for _, db := range open {
		db.terminate()
	}
}

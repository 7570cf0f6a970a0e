package localstore

import (
	"context"
	"sort"
	"sync"
)

type memoryStore struct {
	version     int
	collections map[string]map[string][]byte
}

type memoryDriver struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemoryDriver builds a process-local driver for tests and development.
func NewMemoryDriver() Driver {
	return &memoryDriver{stores: make(map[string]*memoryStore)}
}

func (m *memoryDriver) store(name string) *memoryStore {
	s, ok := m.stores[name]
	if !ok {
		s = &memoryStore{collections: make(map[string]map[string][]byte)}
		m.stores[name] = s
	}
	return s
}

func (m *memoryDriver) Version(_ context.Context, store string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stores[store]; ok {
		return s.version, nil
	}
	return 0, nil
}

func (m *memoryDriver) SetVersion(_ context.Context, store string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(store).version = version
	return nil
}

func (m *memoryDriver) Collections(_ context.Context, store string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[store]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryDriver) CreateCollection(_ context.Context, store, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.store(store)
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string][]byte)
	}
	return nil
}

func (m *memoryDriver) Get(_ context.Context, store, collection, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[store]
	if !ok {
		return nil, false, nil
	}
	value, ok := s.collections[collection][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *memoryDriver) GetAll(_ context.Context, store, collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[store]
	if !ok {
		return nil, nil
	}
	records := make([]Record, 0, len(s.collections[collection]))
	for key, value := range s.collections[collection] {
		records = append(records, Record{Key: key, Value: append([]byte(nil), value...)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (m *memoryDriver) Put(_ context.Context, store, collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.store(store)
	c, ok := s.collections[collection]
	if !ok {
		return ErrNotFound
	}
	c[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryDriver) Delete(_ context.Context, store, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[store]; ok {
		delete(s.collections[collection], key)
	}
	return nil
}

func (m *memoryDriver) Clear(_ context.Context, store, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[store]; ok {
		if _, exists := s.collections[collection]; exists {
			s.collections[collection] = make(map[string][]byte)
		}
	}
	return nil
}

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cryguy/render/internal/core"
)

// Memory is an in-process Store. Entities are copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	sets map[string]map[string]*core.Entity
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{sets: make(map[string]map[string]*core.Entity)}
}

func (m *Memory) Put(_ context.Context, set string, e *core.Entity) error {
	if err := validate(set, e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[set] == nil {
		m.sets[set] = make(map[string]*core.Entity)
	}
	m.sets[set][e.ShortID] = normalize(e)
	return nil
}

func (m *Memory) Get(_ context.Context, set, shortID string) (*core.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sets[set][shortID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *Memory) List(_ context.Context, set string) ([]*core.Entity, error) {
	m.mu.RLock()
	out := make([]*core.Entity, 0, len(m.sets[set]))
	for _, e := range m.sets[set] {
		c := *e
		out = append(out, &c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return EntityPath(out[i]) < EntityPath(out[j]) })
	return out, nil
}

func (m *Memory) ResolvePath(_ context.Context, e *core.Entity, set string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if stored, ok := m.sets[set][e.ShortID]; ok {
		return EntityPath(stored), nil
	}
	return "", ErrNotFound
}

func (m *Memory) ResolveFromPath(_ context.Context, p, set, currentPath string) (*core.Entity, error) {
	folder, name := split(Resolve(p, currentPath))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.sets[set] {
		if e.Folder == folder && e.Name == name {
			c := *e
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) Close() error { return nil }

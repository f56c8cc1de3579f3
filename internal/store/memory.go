package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/forest/internal/domain"
)

// Memory is a process local store. Records are deep copied through JSON
// on the way in and out so callers never share state with it.
type Memory struct {
	mu         sync.RWMutex
	leaves     map[string][]byte // ID -> JSON
	species    map[string][]byte // ID -> JSON
	logs       map[string]domain.Event
	leafLogs   map[string][]string // leaf ID -> log IDs, newest first
	tracebacks map[string]string   // traceback ID -> log ID
	maxLogs    int
}

// NewMemory creates an empty store keeping at most maxLogs records per leaf.
func NewMemory(maxLogs int) *Memory {
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogs
	}
	return &Memory{
		leaves:     make(map[string][]byte),
		species:    make(map[string][]byte),
		logs:       make(map[string]domain.Event),
		leafLogs:   make(map[string][]string),
		tracebacks: make(map[string]string),
		maxLogs:    maxLogs,
	}
}

// DefaultMaxLogs bounds the per leaf log history.
const DefaultMaxLogs = 1000

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (m *Memory) SaveLeaf(_ context.Context, l *domain.Leaf) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal leaf: %w", err)
	}
	m.mu.Lock()
	m.leaves[l.ID] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Leaf(_ context.Context, id string) (*domain.Leaf, error) {
	m.mu.RLock()
	raw, ok := m.leaves[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("leaf %s: %w", id, ErrNotFound)
	}
	return decode[domain.Leaf](raw)
}

func (m *Memory) LeafByName(ctx context.Context, name string) (*domain.Leaf, error) {
	all, err := m.Leaves(ctx, LeafFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range all {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("leaf %s: %w", name, ErrNotFound)
}

// FindLeaf returns a leaf using name or any of addresses.
func (m *Memory) FindLeaf(ctx context.Context, name string, addresses []string) (*domain.Leaf, error) {
	all, err := m.Leaves(ctx, LeafFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range all {
		if l.Name == name {
			return l, nil
		}
		for _, a := range addresses {
			if l.HasAddress(a) {
				return l, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Leaves(_ context.Context, f LeafFilter) ([]*domain.Leaf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Leaf, 0, len(m.leaves))
	for _, raw := range m.leaves {
		l, err := decode[domain.Leaf](raw)
		if err != nil {
			return nil, err
		}
		if f.Match(l) {
			out = append(out, l)
		}
	}
	SortLeaves(out)
	return out, nil
}

func (m *Memory) SaveSpecies(_ context.Context, sp *domain.Species) error {
	raw, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("failed to marshal species: %w", err)
	}
	m.mu.Lock()
	m.species[sp.ID] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Species(_ context.Context, id string) (*domain.Species, error) {
	m.mu.RLock()
	raw, ok := m.species[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("species %s: %w", id, ErrNotFound)
	}
	return decode[domain.Species](raw)
}

func (m *Memory) SpeciesByName(ctx context.Context, name string) (*domain.Species, error) {
	all, err := m.ListSpecies(ctx)
	if err != nil {
		return nil, err
	}
	for _, sp := range all {
		if sp.Name == name {
			return sp, nil
		}
	}
	return nil, fmt.Errorf("species %s: %w", name, ErrNotFound)
}

func (m *Memory) ListSpecies(_ context.Context) ([]*domain.Species, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Species, 0, len(m.species))
	for _, raw := range m.species {
		sp, err := decode[domain.Species](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	SortSpecies(out)
	return out, nil
}

// InsertLog stores ev under its "_id", generating one when absent.
func (m *Memory) InsertLog(_ context.Context, ev domain.Event) (string, error) {
	id := ev.String("_id")
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[id]; ok {
		return id, fmt.Errorf("log %s: %w", id, ErrDuplicate)
	}
	rec := ev.Clone()
	rec["_id"] = id
	m.logs[id] = rec

	if src := ev.LogSource(); src != "" {
		ids := append([]string{id}, m.leafLogs[src]...)
		if len(ids) > m.maxLogs {
			for _, old := range ids[m.maxLogs:] {
				delete(m.logs, old)
			}
			ids = ids[:m.maxLogs]
		}
		m.leafLogs[src] = ids
	}
	if tb := ev.String("traceback_id"); tb != "" && ev.LogType() == domain.LogTypeTraceback {
		m.tracebacks[tb] = id
	}
	return id, nil
}

// RecentLogs returns up to n records of a leaf, oldest first.
func (m *Memory) RecentLogs(_ context.Context, leafID string, n int) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.leafLogs[leafID]
	if n < len(ids) {
		ids = ids[:n]
	}
	out := make([]domain.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if ev, ok := m.logs[ids[i]]; ok {
			out = append(out, ev.Clone())
		}
	}
	return out, nil
}

func (m *Memory) Traceback(_ context.Context, id string) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logID, ok := m.tracebacks[id]
	if !ok {
		return nil, fmt.Errorf("traceback %s: %w", id, ErrNotFound)
	}
	ev, ok := m.logs[logID]
	if !ok {
		return nil, fmt.Errorf("traceback %s: %w", id, ErrNotFound)
	}
	return ev.Clone(), nil
}

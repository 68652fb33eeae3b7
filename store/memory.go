package store

import (
	"context"
	"sync"
)

// Memory is the in-process backend. It holds everything under a single
// RWMutex, which is plenty for the write rates an administrative layer
// produces.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string][]Record

	submu sync.Mutex
	subs  map[chan Event]struct{}
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[string][]Record),
		subs:    make(map[chan Event]struct{}),
	}
}

// Lookup implements Store.
func (m *Memory) Lookup(_ context.Context, name, rtype string) ([]Record, error) {
	name = CanonicalName(name)

	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.records[name][rtype]
	if !ok {
		return nil, nil
	}

	out := make([]Record, len(set))
	copy(out, set)
	return out, nil
}

// Types implements Store.
func (m *Memory) Types(_ context.Context, name string) ([]string, error) {
	name = CanonicalName(name)

	m.mu.RLock()
	defer m.mu.RUnlock()

	sets := m.records[name]
	if len(sets) == 0 {
		return nil, nil
	}

	types := make([]string, 0, len(sets))
	for rtype := range sets {
		types = append(types, rtype)
	}
	return types, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, name, rtype string, records []Record) error {
	name = CanonicalName(name)

	set := make([]Record, len(records))
	copy(set, records)
	for i := range set {
		set[i].Name = name
		set[i].Type = rtype
	}

	m.mu.Lock()
	sets, ok := m.records[name]
	if !ok {
		sets = make(map[string][]Record)
		m.records[name] = sets
	}
	sets[rtype] = set
	m.mu.Unlock()

	m.notify(name)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, name, rtype string) error {
	name = CanonicalName(name)

	m.mu.Lock()
	if rtype == "" {
		delete(m.records, name)
	} else if sets, ok := m.records[name]; ok {
		delete(sets, rtype)
		if len(sets) == 0 {
			delete(m.records, name)
		}
	}
	m.mu.Unlock()

	m.notify(name)
	return nil
}

// Watch implements Store. The channel is buffered, a subscriber that
// stops draining loses events rather than blocking writers.
func (m *Memory) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 128)

	m.submu.Lock()
	m.subs[ch] = struct{}{}
	m.submu.Unlock()

	go func() {
		<-ctx.Done()

		m.submu.Lock()
		delete(m.subs, ch)
		m.submu.Unlock()

		close(ch)
	}()

	return ch, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (m *Memory) notify(name string) {
	m.submu.Lock()
	defer m.submu.Unlock()

	for ch := range m.subs {
		select {
		case ch <- Event{Name: name}:
		default:
		}
	}
}

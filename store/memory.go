// store/memory.go
package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process RemoteStore used by tests and local
// development. Two clients sharing one MemoryStore behave like two devices
// sharing the real sync store: last write wins, no locks.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]map[string]any
	subs  map[string][]chan ChildEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]any),
		subs:  make(map[string][]chan ChildEvent),
	}
}

func norm(path string) string {
	return strings.Trim(path, "/")
}

func (m *MemoryStore) Get(ctx context.Context, path string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.nodes[norm(path)]
	if !ok {
		return nil, nil
	}
	return cloneValue(value), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value map[string]any) error {
	path = norm(path)
	m.mu.Lock()
	m.nodes[path] = cloneValue(value)

	var notify []chan ChildEvent
	var event ChildEvent
	if i := strings.LastIndex(path, "/"); i > 0 {
		parent := path[:i]
		event = ChildEvent{Key: path[i+1:], Value: cloneValue(value)}
		notify = append(notify, m.subs[parent]...)
	}
	m.mu.Unlock()

	for _, ch := range notify {
		select {
		case ch <- event:
		default: // subscriber is gone or slow; drop rather than block the writer
		}
	}
	return nil
}

func (m *MemoryStore) Children(ctx context.Context, path string) (map[string]map[string]any, error) {
	path = norm(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	children := make(map[string]map[string]any)
	prefix := path + "/"
	for p, v := range m.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		children[rest] = cloneValue(v)
	}
	return children, nil
}

func (m *MemoryStore) WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, error) {
	path = norm(path)
	ch := make(chan ChildEvent, 32)
	out := make(chan ChildEvent, 32)

	m.mu.Lock()
	existing := make([]ChildEvent, 0)
	prefix := path + "/"
	for p, v := range m.nodes {
		if strings.HasPrefix(p, prefix) && !strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			existing = append(existing, ChildEvent{Key: strings.TrimPrefix(p, prefix), Value: cloneValue(v)})
		}
	}
	m.subs[path] = append(m.subs[path], ch)
	m.mu.Unlock()

	go func() {
		defer close(out)
		seen := make(map[string]bool)
		deliver := func(ev ChildEvent) bool {
			if seen[ev.Key] {
				return true
			}
			seen[ev.Key] = true
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, ev := range existing {
			if !deliver(ev) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				subs := m.subs[path]
				for i, c := range subs {
					if c == ch {
						m.subs[path] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
				m.mu.Unlock()
				return
			case ev := <-ch:
				if !deliver(ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

func cloneValue(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneValue(nested)
			continue
		}
		out[k] = v
	}
	return out
}

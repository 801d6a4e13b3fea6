package vulkan

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-sched/engine/renderer"
)

// registry maps the opaque handles the scheduler passes around to the
// Vulkan objects the host created.
type registry[H ~uint64, V any] struct {
	mu    sync.RWMutex
	kind  string
	next  H
	items map[H]V
}

func newRegistry[H ~uint64, V any](kind string) *registry[H, V] {
	return &registry[H, V]{kind: kind, items: make(map[H]V)}
}

func (r *registry[H, V]) add(v V) H {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.items[r.next] = v
	return r.next
}

func (r *registry[H, V]) get(h H) (V, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[h]
	if !ok {
		var zero V
		return zero, fmt.Errorf("vulkan: %s %d: %w", r.kind, h, renderer.ErrInvalidHandle)
	}
	return v, nil
}

// getOptional resolves h, treating the zero handle as "not set".
func (r *registry[H, V]) getOptional(h H) (V, bool, error) {
	if h == 0 {
		var zero V
		return zero, false, nil
	}
	v, err := r.get(h)
	return v, err == nil, err
}

func (r *registry[H, V]) remove(h H) (V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[h]
	if !ok {
		return v, fmt.Errorf("vulkan: %s %d: %w", r.kind, h, renderer.ErrInvalidHandle)
	}
	delete(r.items, h)
	return v, nil
}

func (r *registry[H, V]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *registry[H, V]) each(fn func(H, V)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for h, v := range r.items {
		fn(h, v)
	}
}

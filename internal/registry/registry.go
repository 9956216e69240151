// Package registry maps configured feed types to processor factories.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mini-rodalies-3d/transitpipe/internal/failure"
)

// ErrDuplicate is returned when a format type is registered twice.
var ErrDuplicate = errors.New("processor already registered")

// Factory builds a fresh processor instance. Each feed run gets its own
// instance so that workspace state is never shared.
type Factory[T any] func() T

// Registry is a thread-safe format type -> factory map.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]Factory[T])}
}

// Register adds factory under formatType. Registering the same type twice
// is an error, never an overwrite.
func (r *Registry[T]) Register(formatType string, factory Factory[T]) error {
	if formatType == "" {
		return errors.New("format type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("nil factory for %q", formatType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[formatType]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, formatType)
	}
	r.factories[formatType] = factory
	return nil
}

// Resolve returns a new processor for formatType. Unknown types yield an
// error matching failure.ErrRegistryLookup.
func (r *Registry[T]) Resolve(formatType string) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[formatType]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, failure.Lookup(formatType)
	}
	return factory(), nil
}

// Has reports whether formatType is registered.
func (r *Registry[T]) Has(formatType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[formatType]
	return ok
}

// Types lists registered format types, sorted.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

package services

import (
	"fmt"
	"reflect"
	"sync"
)

// Locator resolves host capabilities by their static type.
type Locator interface {
	Lookup(t reflect.Type) (any, bool)
}

// Registry is a Locator populated by the host at wiring time. Child
// registries fall back to their parent for anything they do not bind.
type Registry struct {
	mu       sync.RWMutex
	parent   Locator
	bindings map[reflect.Type]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[reflect.Type]any)}
}

// Child returns a registry that overlays r.
func (r *Registry) Child() *Registry {
	child := NewRegistry()
	child.parent = r
	return child
}

// Lookup implements Locator.
func (r *Registry) Lookup(t reflect.Type) (any, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	value, ok := r.bindings[t]
	parent := r.parent
	r.mu.RUnlock()
	if ok {
		return value, true
	}
	if parent != nil {
		return parent.Lookup(t)
	}
	return nil, false
}

// Provide binds value under the static type T, replacing any prior binding.
// Interfaces are bound by the interface type, so Provide[Logger](r, impl)
// makes impl resolvable as Get[Logger].
func Provide[T any](r *Registry, value T) {
	t := reflect.TypeFor[T]()
	r.mu.Lock()
	r.bindings[t] = value
	r.mu.Unlock()
}

// Get resolves T from loc.
func Get[T any](loc Locator) (T, bool) {
	var zero T
	if loc == nil {
		return zero, false
	}
	value, ok := loc.Lookup(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	return typed, ok
}

// Require resolves T from loc or returns an error wrapping ErrServiceMissing.
func Require[T any](loc Locator) (T, error) {
	value, ok := Get[T](loc)
	if !ok {
		return value, fmt.Errorf("%w: %s", ErrServiceMissing, reflect.TypeFor[T]())
	}
	return value, nil
}

package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a plugin instance for a manifest entry.
type Factory func(spec Spec) (Plugin, error)

// Catalog maps manifest kinds to factories compiled into the host.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register binds kind to factory. Kinds are case-insensitive and may only be
// registered once.
func (c *Catalog) Register(kind string, factory Factory) error {
	key := strings.ToLower(strings.TrimSpace(kind))
	if key == "" {
		return fmt.Errorf("register plugin kind: empty kind")
	}
	if factory == nil {
		return fmt.Errorf("register plugin kind %q: nil factory", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[key]; exists {
		return fmt.Errorf("register plugin kind %q: already registered", kind)
	}
	c.factories[key] = factory
	return nil
}

// MustRegister is Register for wiring code; it panics on error.
func (c *Catalog) MustRegister(kind string, factory Factory) {
	if err := c.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for kind.
func (c *Catalog) Lookup(kind string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[strings.ToLower(strings.TrimSpace(kind))]
	return f, ok
}

// Kinds lists registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

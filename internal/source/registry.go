package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory creates a change source from its connection string.
type Factory func(ctx context.Context, connString string) (ChangeSource, error)

// Registration describes a change source available by name.
type Registration struct {
	Name        string
	Description string
	Factory     Factory
}

var (
	registry = make(map[string]Registration)
	mu       sync.RWMutex
)

// Register adds a change source registration to the registry.
func Register(r Registration) {
	mu.Lock()
	defer mu.Unlock()
	registry[r.Name] = r
}

// Open creates the named change source.
func Open(ctx context.Context, name, connString string) (ChangeSource, error) {
	mu.RLock()
	r, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown change source: %s", name)
	}
	return r.Factory(ctx, connString)
}

// List returns all registered source names, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registrations returns all registrations, sorted by name.
func Registrations() []Registration {
	mu.RLock()
	defer mu.RUnlock()

	all := make([]Registration, 0, len(registry))
	for _, r := range registry {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

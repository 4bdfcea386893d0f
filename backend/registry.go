package backend

import (
	"sort"
	"sync"
)

// Backend name constants.
const (
	// NameSoftware is the CPU reference backend.
	NameSoftware = "software"
	// NameNative is the Pure Go GPU backend (gogpu/wgpu).
	NameNative = "native"
)

// Factory creates a new backend instance.
type Factory func() Backend

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{NameNative, NameSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a new, uninitialized backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) Backend {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil
	}
	return factory()
}

// candidates returns factories in priority order followed by the rest in name order.
func candidates() []Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool, len(backends))
	out := make([]Factory, 0, len(backends))
	for _, name := range backendPriority {
		if f, ok := backends[name]; ok {
			out = append(out, f)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(backends))
	for name := range backends {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, backends[name])
	}
	return out
}

// InitDefault initializes the best available backend.
// Backends are tried in priority order (native, then software); a backend
// whose Init fails is skipped. The error of the last failed backend is
// returned when none can be initialized.
func InitDefault() (Backend, error) {
	var lastErr error = ErrBackendNotAvailable
	for _, factory := range candidates() {
		b := factory()
		if b == nil {
			continue
		}
		if err := b.Init(); err != nil {
			lastErr = err
			continue
		}
		return b, nil
	}
	return nil, lastErr
}

package permission

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrFrozen         = errors.New("permission: registry frozen")
	ErrEmptyName      = errors.New("permission: name cannot be empty")
	ErrDuplicate      = errors.New("permission: already registered")
	ErrUnknown        = errors.New("permission: unknown permission")
	ErrUnknownRole    = errors.New("permission: unknown role")
	ErrRoleRegistered = errors.New("permission: role already registered")
)

// Registry is the set of permission names a deployment recognizes.
type Registry struct {
	mu     sync.RWMutex
	names  map[string]struct{}
	frozen bool
}

// NewRegistry returns an empty, writable registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register adds name. It fails after Freeze.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if name == "" {
		return ErrEmptyName
	}
	if _, exists := r.names[name]; exists {
		return ErrDuplicate
	}
	r.names[name] = struct{}{}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

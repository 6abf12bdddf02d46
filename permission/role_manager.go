package permission

import (
	"fmt"
	"sort"
	"sync"
)

// RoleManager maps role names to permission names.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string][]string
	frozen bool
}

// NewRoleManager returns a RoleManager that validates against registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string][]string),
	}
}

// RegisterRole binds role to perms. Every permission must already be in the
// registry.
func (m *RoleManager) RegisterRole(role string, perms ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return ErrFrozen
	}
	if role == "" {
		return ErrEmptyName
	}
	if _, exists := m.roles[role]; exists {
		return ErrRoleRegistered
	}

	bound := make([]string, 0, len(perms))
	for _, p := range perms {
		if !m.registry.Has(p) {
			return fmt.Errorf("%w: %q", ErrUnknown, p)
		}
		bound = append(bound, p)
	}
	sort.Strings(bound)
	m.roles[role] = bound
	return nil
}

// HasRole reports whether role is registered.
func (m *RoleManager) HasRole(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roles[role]
	return ok
}

// Validate fails with ErrUnknownRole on the first unregistered role.
func (m *RoleManager) Validate(roles []string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range roles {
		if _, ok := m.roles[r]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRole, r)
		}
	}
	return nil
}

// Resolve returns the sorted, de-duplicated union of the permissions of
// roles. Unknown roles contribute nothing.
func (m *RoleManager) Resolve(roles []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range roles {
		for _, p := range m.roles[r] {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further role registrations and freezes the registry.
func (m *RoleManager) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	m.registry.Freeze()
}

package stores

import (
	"context"
	"strings"
	"sync"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

// MemoryPolicySource keeps policy documents in memory, keyed by realm.
// Useful for tests and for hosts that hydrate policies themselves.
type MemoryPolicySource struct {
	mu       sync.RWMutex
	policies map[string][]secrules.Policy
}

func NewMemoryPolicySource() *MemoryPolicySource {
	return &MemoryPolicySource{policies: make(map[string][]secrules.Policy)}
}

// Put registers a policy under its realm; an empty realm applies to
// every realm.
func (m *MemoryPolicySource) Put(policy secrules.Policy) {
	realm := strings.ToLower(policy.Realm)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[realm] = append(m.policies[realm], policy)
}

// Clear drops everything.
func (m *MemoryPolicySource) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = make(map[string][]secrules.Policy)
}

func (m *MemoryPolicySource) ListPolicies(ctx context.Context, realm string) ([]secrules.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	realm = strings.ToLower(realm)
	out := make([]secrules.Policy, 0, len(m.policies[realm])+len(m.policies[""]))
	out = append(out, m.policies[realm]...)
	if realm != "" {
		out = append(out, m.policies[""]...)
	}
	return out, nil
}

var _ secrules.PolicySource = (*MemoryPolicySource)(nil)

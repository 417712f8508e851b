package secrules

import "context"

// Policy is one persisted policy document: a principal (or role) plus
// the rules it grants. Rules carry their own identity in the URI header;
// PrincipalID is the fallback key for rules that do not.
type Policy struct {
	PrincipalID string  `json:"principal_id" yaml:"principal_id"`
	Realm       string  `json:"realm,omitempty" yaml:"realm,omitempty"`
	Rules       []*Rule `json:"rules" yaml:"rules"`
}

// PolicySource hands the engine every persisted policy for a realm.
// Consumed only by ReloadFromSource; implementations live in the stores
// package (SQL, YAML files, memory).
type PolicySource interface {
	ListPolicies(ctx context.Context, realm string) ([]Policy, error)
}

// PolicySourceFunc adapts a function to the PolicySource interface.
type PolicySourceFunc func(ctx context.Context, realm string) ([]Policy, error)

func (f PolicySourceFunc) ListPolicies(ctx context.Context, realm string) ([]Policy, error) {
	return f(ctx, realm)
}

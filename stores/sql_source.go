package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

// SQLPolicySource persists policy documents in SQL through squealx and
// serves them to the engine's reload path. Every mutation appends a JSON
// snapshot to policy_history, so administrative changes stay auditable.
type SQLPolicySource struct {
	db *squealx.DB
}

func NewSQLPolicySource(db *squealx.DB) *SQLPolicySource {
	return &SQLPolicySource{db: db}
}

// StoredPolicy is the persistence shape of one policy document.
type StoredPolicy struct {
	ID          string
	Realm       string
	PrincipalID string
	Rules       []*secrules.Rule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *SQLPolicySource) CreatePolicy(ctx context.Context, p *StoredPolicy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	q := `INSERT INTO policies(id, realm, principal_id, created_at, updated_at) VALUES(:id, :realm, :principal_id, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           p.ID,
		"realm":        p.Realm,
		"principal_id": p.PrincipalID,
		"created_at":   p.CreatedAt,
		"updated_at":   p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if err := s.insertRules(ctx, p.ID, p.Rules); err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

func (s *SQLPolicySource) UpdatePolicy(ctx context.Context, p *StoredPolicy) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	// snapshot the current state before overwriting it
	current, err := s.GetPolicy(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("snapshot policy %q before update: %w", p.ID, err)
	}
	if err := s.insertPolicyHistory(ctx, current); err != nil {
		return err
	}
	q := `UPDATE policies SET realm=:realm, principal_id=:principal_id, updated_at=:updated_at WHERE id=:id`
	if _, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           p.ID,
		"realm":        p.Realm,
		"principal_id": p.PrincipalID,
		"updated_at":   p.UpdatedAt,
	}); err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx,
		`DELETE FROM policy_rules WHERE policy_id = :policy_id`,
		map[string]any{"policy_id": p.ID}); err != nil {
		return err
	}
	if err := s.insertRules(ctx, p.ID, p.Rules); err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

func (s *SQLPolicySource) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.db.NamedExecContext(ctx,
		`DELETE FROM policy_rules WHERE policy_id = :policy_id`,
		map[string]any{"policy_id": id}); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx,
		`DELETE FROM policies WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLPolicySource) GetPolicy(ctx context.Context, id string) (*StoredPolicy, error) {
	q := `SELECT id, realm, principal_id, created_at, updated_at FROM policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy not found: %s", id)
	}
	var idv, realm, principal string
	var createdRaw, updatedRaw any
	if err := r.Scan(&idv, &realm, &principal, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p := &StoredPolicy{
		ID:          idv,
		Realm:       realm,
		PrincipalID: principal,
		CreatedAt:   scanTime(createdRaw),
		UpdatedAt:   scanTime(updatedRaw),
	}
	rules, err := s.loadRules(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Rules = rules
	return p, nil
}

// ListPolicies implements secrules.PolicySource. Policies with an empty
// realm apply everywhere.
func (s *SQLPolicySource) ListPolicies(ctx context.Context, realm string) ([]secrules.Policy, error) {
	q := `SELECT id FROM policies WHERE realm = :realm OR realm = ''`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"realm": realm})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var ids []string
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	out := make([]secrules.Policy, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, secrules.Policy{
			PrincipalID: p.PrincipalID,
			Realm:       p.Realm,
			Rules:       p.Rules,
		})
	}
	return out, nil
}

func (s *SQLPolicySource) insertRules(ctx context.Context, policyID string, rules []*secrules.Rule) error {
	q := `INSERT INTO policy_rules(policy_id, name, description, uri_json, effect, priority, final_rule, precondition_script, postcondition_script, and_filter, or_filter, join_op)
VALUES(:policy_id, :name, :description, :uri_json, :effect, :priority, :final_rule, :precondition_script, :postcondition_script, :and_filter, :or_filter, :join_op)`
	for _, rule := range rules {
		uriJSON, err := json.Marshal(rule.URI)
		if err != nil {
			return err
		}
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{
			"policy_id":            policyID,
			"name":                 rule.Name,
			"description":          rule.Description,
			"uri_json":             string(uriJSON),
			"effect":               string(rule.Effect),
			"priority":             rule.Priority,
			"final_rule":           boolToInt(rule.FinalRule),
			"precondition_script":  rule.PreconditionScript,
			"postcondition_script": rule.PostconditionScript,
			"and_filter":           rule.AndFilterString,
			"or_filter":            rule.OrFilterString,
			"join_op":              string(rule.JoinOp),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLPolicySource) loadRules(ctx context.Context, policyID string) ([]*secrules.Rule, error) {
	q := `SELECT name, description, uri_json, effect, priority, final_rule, precondition_script, postcondition_script, and_filter, or_filter, join_op
FROM policy_rules WHERE policy_id = :policy_id ORDER BY priority ASC, id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": policyID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []*secrules.Rule
	for r.Next() {
		var name, description, uriJSON, effect, pre, post, andF, orF, joinOp string
		var priority, finalInt int
		if err := r.Scan(&name, &description, &uriJSON, &effect, &priority, &finalInt, &pre, &post, &andF, &orF, &joinOp); err != nil {
			return nil, err
		}
		var uri secrules.SecurityURI
		if err := json.Unmarshal([]byte(uriJSON), &uri); err != nil {
			return nil, fmt.Errorf("policy %s rule %q: %w", policyID, name, err)
		}
		b := secrules.NewRule(name).
			WithDescription(description).
			WithSecurityURI(uri).
			WithEffect(secrules.Effect(effect)).
			WithPriority(priority).
			WithFinalRule(finalInt != 0).
			WithPreconditionScript(pre).
			WithPostconditionScript(post).
			WithAndFilterString(andF).
			WithOrFilterString(orF)
		if joinOp != "" {
			b = b.WithJoinOp(effectiveJoinOp(joinOp))
		}
		out = append(out, b.Build())
	}
	return out, nil
}

// insertPolicyHistory appends a JSON snapshot of the policy document.
func (s *SQLPolicySource) insertPolicyHistory(ctx context.Context, p *StoredPolicy) error {
	snap := map[string]any{
		"id":           p.ID,
		"realm":        p.Realm,
		"principal_id": p.PrincipalID,
		"rules":        p.Rules,
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	q := `INSERT INTO policy_history(policy_id, snapshot_json) VALUES(:policy_id, :snapshot_json)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"policy_id":     p.ID,
		"snapshot_json": string(b),
	})
	return err
}

// PolicyHistory returns the stored snapshots for a policy, oldest first.
func (s *SQLPolicySource) PolicyHistory(ctx context.Context, id string) ([]*StoredPolicy, error) {
	q := `SELECT snapshot_json FROM policy_history WHERE policy_id = :policy_id ORDER BY id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []*StoredPolicy
	for r.Next() {
		var snap string
		if err := r.Scan(&snap); err != nil {
			return nil, err
		}
		var raw struct {
			ID          string           `json:"id"`
			Realm       string           `json:"realm"`
			PrincipalID string           `json:"principal_id"`
			Rules       []*secrules.Rule `json:"rules"`
		}
		if err := json.Unmarshal([]byte(snap), &raw); err != nil {
			return nil, err
		}
		out = append(out, &StoredPolicy{
			ID:          raw.ID,
			Realm:       raw.Realm,
			PrincipalID: raw.PrincipalID,
			Rules:       raw.Rules,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no history for policy %s", id)
	}
	return out, nil
}

var _ secrules.PolicySource = (*SQLPolicySource)(nil)

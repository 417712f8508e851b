package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

// PolicyDocument is the declarative policy file format used for seeding
// and for the rules-config tooling. Rules omit priority to mean the
// engine default.
type PolicyDocument struct {
	Realm    string       `json:"realm,omitempty" yaml:"realm,omitempty"`
	Policies []filePolicy `json:"policies" yaml:"policies"`
}

type filePolicy struct {
	PrincipalID string     `json:"principal_id,omitempty" yaml:"principal_id,omitempty"`
	Realm       string     `json:"realm,omitempty" yaml:"realm,omitempty"`
	Rules       []fileRule `json:"rules" yaml:"rules"`
}

// fileRule mirrors secrules.Rule with a pointer priority, so an absent
// priority can fall back to DefaultPriority instead of zero.
type fileRule struct {
	Name                string               `json:"name" yaml:"name"`
	Description         string               `json:"description,omitempty" yaml:"description,omitempty"`
	URI                 secrules.SecurityURI `json:"security_uri" yaml:"security_uri"`
	Effect              secrules.Effect      `json:"effect" yaml:"effect"`
	Priority            *int                 `json:"priority,omitempty" yaml:"priority,omitempty"`
	FinalRule           bool                 `json:"final_rule,omitempty" yaml:"final_rule,omitempty"`
	PreconditionScript  string               `json:"precondition_script,omitempty" yaml:"precondition_script,omitempty"`
	PostconditionScript string               `json:"postcondition_script,omitempty" yaml:"postcondition_script,omitempty"`
	AndFilterString     string               `json:"and_filter_string,omitempty" yaml:"and_filter_string,omitempty"`
	OrFilterString      string               `json:"or_filter_string,omitempty" yaml:"or_filter_string,omitempty"`
	JoinOp              string               `json:"join_op,omitempty" yaml:"join_op,omitempty"`
}

func (fr fileRule) toRule() *secrules.Rule {
	priority := secrules.DefaultPriority
	if fr.Priority != nil {
		priority = *fr.Priority
	}
	b := secrules.NewRule(fr.Name).
		WithDescription(fr.Description).
		WithSecurityURI(fr.URI).
		WithEffect(fr.Effect).
		WithPriority(priority).
		WithFinalRule(fr.FinalRule).
		WithPreconditionScript(fr.PreconditionScript).
		WithPostconditionScript(fr.PostconditionScript).
		WithAndFilterString(fr.AndFilterString).
		WithOrFilterString(fr.OrFilterString)
	if fr.JoinOp != "" {
		b = b.WithJoinOp(effectiveJoinOp(fr.JoinOp))
	}
	return b.Build()
}

// ParsePolicyDocument decodes a YAML or JSON policy document.
func ParsePolicyDocument(data []byte, format string) (*PolicyDocument, error) {
	doc := &PolicyDocument{}
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("parse policy document: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("parse policy document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy document format: %s", format)
	}
	return doc, nil
}

// Validate checks every rule in the document.
func (d *PolicyDocument) Validate() error {
	for _, p := range d.Policies {
		for _, fr := range p.Rules {
			if fr.URI.Header.Identity == "" && p.PrincipalID == "" {
				return fmt.Errorf("rule %q has no identity and its policy has no principal", fr.Name)
			}
			if err := fr.toRule().Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToPolicies flattens the document into engine policies.
func (d *PolicyDocument) ToPolicies() []secrules.Policy {
	out := make([]secrules.Policy, 0, len(d.Policies))
	for _, p := range d.Policies {
		realm := p.Realm
		if realm == "" {
			realm = d.Realm
		}
		rules := make([]*secrules.Rule, 0, len(p.Rules))
		for _, fr := range p.Rules {
			rules = append(rules, fr.toRule())
		}
		out = append(out, secrules.Policy{
			PrincipalID: p.PrincipalID,
			Realm:       realm,
			Rules:       rules,
		})
	}
	return out
}

// FilePolicySource serves policies from a declarative document on disk,
// re-reading the file on every reload so edits take effect with the next
// realm reload.
type FilePolicySource struct {
	path string
}

func NewFilePolicySource(path string) *FilePolicySource {
	return &FilePolicySource{path: path}
}

func (f *FilePolicySource) ListPolicies(ctx context.Context, realm string) ([]secrules.Policy, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	doc, err := ParsePolicyDocument(data, formatForPath(f.path))
	if err != nil {
		return nil, err
	}
	var out []secrules.Policy
	for _, p := range doc.ToPolicies() {
		if p.Realm == "" || strings.EqualFold(p.Realm, realm) {
			out = append(out, p)
		}
	}
	return out, nil
}

func formatForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "json"
	default:
		return "yaml"
	}
}

var _ secrules.PolicySource = (*FilePolicySource)(nil)

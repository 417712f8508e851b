package secrules

import (
	"errors"
	"fmt"
)

// Effect is the outcome a rule contributes when it matches.
type Effect string

const (
	Allow Effect = "ALLOW"
	Deny  Effect = "DENY"
)

// DeterminedEffect is the effect a matched rule actually contributed to
// a check. NotApplicable means the rule matched by URI but its
// postcondition script voted it out.
type DeterminedEffect string

const (
	DeterminedAllow DeterminedEffect = "ALLOW"
	DeterminedDeny  DeterminedEffect = "DENY"
	NotApplicable   DeterminedEffect = "NOT_APPLICABLE"
)

func determined(e Effect) DeterminedEffect { return DeterminedEffect(e) }

// JoinOp selects how a rule's pending AND and OR filter groups are
// merged during filter composition.
type JoinOp string

const (
	JoinAnd JoinOp = "AND"
	JoinOr  JoinOp = "OR"
)

// DefaultPriority is assumed when a rule does not carry one. Lower
// values evaluate earlier.
const DefaultPriority = 10

// Rule is a named policy unit: a wildcard-capable SecurityURI pattern,
// an effect, a priority, a final flag that stops evaluation on match,
// optional condition scripts, and optional filter-string fragments that
// feed filter composition. Rules are immutable once built.
type Rule struct {
	Name                string      `json:"name" yaml:"name"`
	Description         string      `json:"description,omitempty" yaml:"description,omitempty"`
	URI                 SecurityURI `json:"security_uri" yaml:"security_uri"`
	Effect              Effect      `json:"effect" yaml:"effect"`
	Priority            int         `json:"priority" yaml:"priority"`
	FinalRule           bool        `json:"final_rule" yaml:"final_rule"`
	PreconditionScript  string      `json:"precondition_script,omitempty" yaml:"precondition_script,omitempty"`
	PostconditionScript string      `json:"postcondition_script,omitempty" yaml:"postcondition_script,omitempty"`
	AndFilterString     string      `json:"and_filter_string,omitempty" yaml:"and_filter_string,omitempty"`
	OrFilterString      string      `json:"or_filter_string,omitempty" yaml:"or_filter_string,omitempty"`
	JoinOp              JoinOp      `json:"join_op,omitempty" yaml:"join_op,omitempty"`
}

var (
	ErrRuleMissingName = errors.New("rule has no name")
	ErrRuleMissingURI  = errors.New("rule has no security URI")
)

// Validate reports structural problems that would make a rule unusable
// at evaluation time.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return ErrRuleMissingName
	}
	if r.URI.Header == (SecurityURIHeader{}) {
		return fmt.Errorf("rule %q: %w", r.Name, ErrRuleMissingURI)
	}
	if r.Effect != Allow && r.Effect != Deny {
		return fmt.Errorf("rule %q: effect must be ALLOW or DENY, got %q", r.Name, r.Effect)
	}
	if r.JoinOp != "" && r.JoinOp != JoinAnd && r.JoinOp != JoinOr {
		return fmt.Errorf("rule %q: join op must be AND or OR, got %q", r.Name, r.JoinOp)
	}
	return nil
}

// joinOp returns the effective join operator, defaulting to AND.
func (r *Rule) joinOp() JoinOp {
	if r.JoinOp == JoinOr {
		return JoinOr
	}
	return JoinAnd
}

// RuleBuilder assembles an immutable Rule fluently.
type RuleBuilder struct {
	r Rule
}

func NewRule(name string) *RuleBuilder {
	return &RuleBuilder{r: Rule{Name: name, Priority: DefaultPriority, Effect: Deny}}
}

func (b *RuleBuilder) WithDescription(desc string) *RuleBuilder {
	b.r.Description = desc
	return b
}

func (b *RuleBuilder) WithSecurityURI(uri SecurityURI) *RuleBuilder {
	b.r.URI = uri
	return b
}

func (b *RuleBuilder) WithEffect(effect Effect) *RuleBuilder {
	b.r.Effect = effect
	return b
}

func (b *RuleBuilder) WithPriority(priority int) *RuleBuilder {
	b.r.Priority = priority
	return b
}

func (b *RuleBuilder) WithFinalRule(final bool) *RuleBuilder {
	b.r.FinalRule = final
	return b
}

func (b *RuleBuilder) WithPreconditionScript(script string) *RuleBuilder {
	b.r.PreconditionScript = script
	return b
}

func (b *RuleBuilder) WithPostconditionScript(script string) *RuleBuilder {
	b.r.PostconditionScript = script
	return b
}

func (b *RuleBuilder) WithAndFilterString(s string) *RuleBuilder {
	b.r.AndFilterString = s
	return b
}

func (b *RuleBuilder) WithOrFilterString(s string) *RuleBuilder {
	b.r.OrFilterString = s
	return b
}

func (b *RuleBuilder) WithJoinOp(op JoinOp) *RuleBuilder {
	b.r.JoinOp = op
	return b
}

func (b *RuleBuilder) Build() *Rule {
	r := b.r
	r.URI = NewSecurityURI(r.URI.Header, r.URI.Body)
	return &r
}

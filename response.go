package secrules

// MatchEvent records a single rule-URI comparison during a check,
// whether or not it matched. The Difference field carries a string diff
// of the two canonical URIs for debugging near-misses.
type MatchEvent struct {
	PrincipalURI     string `json:"principal_uri"`
	RuleURI          string `json:"rule_uri"`
	RuleName         string `json:"rule_name"`
	Matched          bool   `json:"matched"`
	Difference       string `json:"difference,omitempty"`
	PreScript        string `json:"pre_script,omitempty"`
	PreScriptResult  bool   `json:"pre_script_result,omitempty"`
	PostScript       string `json:"post_script,omitempty"`
	PostScriptResult bool   `json:"post_script_result,omitempty"`
}

// RuleResult pairs a matched rule with the effect it actually
// contributed.
type RuleResult struct {
	Rule             *Rule            `json:"rule"`
	DeterminedEffect DeterminedEffect `json:"determined_effect"`
}

// SecurityCheckResponse is the full audit trail of one evaluation: the
// inputs, every rule examined, every comparison attempted, and the final
// effect. Created fresh per call; callers treat it as read-only.
type SecurityCheckResponse struct {
	Principal              *PrincipalContext `json:"principal_context"`
	Resource               *ResourceContext  `json:"resource_context"`
	FinalEffect            Effect            `json:"final_effect"`
	EvaluatedRules         []*Rule           `json:"evaluated_rules"`
	MatchedRuleResults     []RuleResult      `json:"matched_rule_results"`
	MatchEvents            []MatchEvent      `json:"match_events"`
	ApplicableSecurityURIs []SecurityURI     `json:"applicable_security_uris"`
}

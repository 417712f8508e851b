package secrules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func acmePrincipal(userID string, roles ...string) *PrincipalContext {
	return NewPrincipal(userID).
		WithRoles(roles...).
		WithDefaultRealm("acme-com").
		WithDataDomain(DataDomain{
			OrgRefName: "acme.com",
			AccountNum: "1000000001",
			TenantID:   "acme.com",
			OwnerID:    userID,
		}).
		Build()
}

func TestDefaultDenyWhenNothingMatches(t *testing.T) {
	ctx := context.Background()
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	pctx := acmePrincipal("nobody@acme.com")
	rctx := NewResource("ecommerce", "order", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Deny {
		t.Fatalf("expected default deny, got %s", resp.FinalEffect)
	}
	if len(resp.MatchedRuleResults) != 0 {
		t.Fatalf("expected no matched rules, got %d", len(resp.MatchedRuleResults))
	}

	resp, err = eng.CheckRulesWithDefault(ctx, pctx, rctx, Allow)
	if err != nil {
		t.Fatalf("CheckRulesWithDefault: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected caller default allow, got %s", resp.FinalEffect)
	}
}

func TestUserRoleCanViewOwnResources(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	pctx := acmePrincipal("alice@acme.com", "user")
	rctx := NewResource("ecommerce", "order", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected allow via user role, got %s", resp.FinalEffect)
	}
}

func TestUsersCannotDeleteInSecurityArea(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	pctx := acmePrincipal("alice@acme.com", "user")
	rctx := NewResource("Security", "users", "DELETE").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Deny {
		t.Fatalf("expected final deny for security delete, got %s", resp.FinalEffect)
	}
}

func TestTenantAdminCanAdministerTenant(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	pctx := acmePrincipal("root@acme.com", "admin")
	rctx := NewResource("ecommerce", "order", "delete").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected admin allow, got %s", resp.FinalEffect)
	}
}

func TestSystemUserFinalAllowInSecurityArea(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	pctx := NewPrincipal(SystemUserID).
		WithDefaultRealm(SystemRealm).
		WithDataDomain(DataDomain{
			OrgRefName: SystemOrgRefName,
			AccountNum: SystemAccountNumber,
			TenantID:   SystemTenantID,
		}).
		Build()
	rctx := NewResource("Security", "users", "delete").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected system user allow, got %s", resp.FinalEffect)
	}
	if len(resp.MatchedRuleResults) != 1 {
		t.Fatalf("expected the final system rule to stop evaluation, matched %d", len(resp.MatchedRuleResults))
	}
}

func TestAnonymousOnboardingScopedToSystemRealm(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	anon := func(realm string) *PrincipalContext {
		return NewPrincipal(AnonymousUserID).
			WithRoles("ANONYMOUS").
			WithDefaultRealm(realm).
			WithDataDomain(DataDomain{
				AccountNum: SystemAccountNumber,
				TenantID:   SystemTenantID,
			}).
			Build()
	}
	rctx := NewResource("onboarding", "registrationRequest", "create").Build()

	resp, err := eng.CheckRules(ctx, anon(SystemRealm), rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected register allow in system realm, got %s", resp.FinalEffect)
	}

	resp, err = eng.CheckRules(ctx, anon("acme-com"), rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Deny {
		t.Fatalf("expected register deny outside system realm, got %s", resp.FinalEffect)
	}
}

func TestMixedCaseIdentitiesStillMatch(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	pctx := acmePrincipal("Alice@Acme.com", "USER")
	rctx := NewResource("Ecommerce", "Order", "VIEW").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected case-insensitive allow, got %s", resp.FinalEffect)
	}
}

func auditorRule(name string, effect Effect, priority int, final bool) *Rule {
	header := NewHeader("auditor", Any, Any, Any)
	return NewRule(name).
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(effect).
		WithPriority(priority).
		WithFinalRule(final).
		Build()
}

func TestPriorityOrderAndLastMatchOverwrite(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	header := NewHeader("auditor", Any, Any, Any)
	if err := eng.AddRule(header, auditorRule("late deny", Deny, 5, false)); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := eng.AddRule(header, auditorRule("early allow", Allow, 1, false)); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if len(resp.EvaluatedRules) != 2 {
		t.Fatalf("expected 2 evaluated rules, got %d", len(resp.EvaluatedRules))
	}
	if resp.EvaluatedRules[0].Name != "early allow" || resp.EvaluatedRules[1].Name != "late deny" {
		t.Fatalf("expected priority order, got %s then %s",
			resp.EvaluatedRules[0].Name, resp.EvaluatedRules[1].Name)
	}
	// both matched; the later matching rule's effect stands
	if resp.FinalEffect != Deny {
		t.Fatalf("expected last matching rule to win, got %s", resp.FinalEffect)
	}
}

func TestFinalRuleStopsEvaluation(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	header := NewHeader("auditor", Any, Any, Any)
	_ = eng.AddRule(header, auditorRule("final allow", Allow, 1, true))
	_ = eng.AddRule(header, auditorRule("never reached", Deny, 2, false))

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected final allow, got %s", resp.FinalEffect)
	}
	if len(resp.EvaluatedRules) != 1 {
		t.Fatalf("expected evaluation to stop at the final rule, evaluated %d", len(resp.EvaluatedRules))
	}
}

func TestPreconditionScriptGatesRule(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	header := NewHeader("auditor", Any, Any, Any)
	rule := NewRule("api scope only").
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(Allow).
		WithPreconditionScript("pcontext.scope == 'api'").
		Build()
	_ = eng.AddRule(header, rule)

	rctx := NewResource("reports", "ledger", "view").Build()

	noScope := acmePrincipal("carol@acme.com", "auditor")
	resp, err := eng.CheckRules(ctx, noScope, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Deny {
		t.Fatalf("expected deny when precondition fails, got %s", resp.FinalEffect)
	}

	withScope := NewPrincipal("carol@acme.com").
		WithRoles("auditor").
		WithDefaultRealm("acme-com").
		WithScope("api").
		Build()
	resp, err = eng.CheckRules(ctx, withScope, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected allow when precondition holds, got %s", resp.FinalEffect)
	}
}

func TestPreconditionOnlyRunsForMatchedRules(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	// The broken script must stay inert while the rule's URI does not
	// match the resource being checked.
	header := NewHeader("auditor", "payroll", Any, Any)
	rule := NewRule("payroll gate").
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(Allow).
		WithPreconditionScript("this is not a clause").
		Build()
	_ = eng.AddRule(header, rule)

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Deny {
		t.Fatalf("expected default deny, got %s", resp.FinalEffect)
	}
}

func TestVetoedRuleRecordsNotApplicableAndNoFinality(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	header := NewHeader("auditor", Any, Any, Any)
	vetoed := NewRule("gated final allow").
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(Allow).
		WithPriority(1).
		WithFinalRule(true).
		WithPreconditionScript("pcontext.scope == 'api'").
		Build()
	fallback := NewRule("plain allow").
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(Allow).
		WithPriority(2).
		Build()
	_ = eng.AddRule(header, vetoed)
	_ = eng.AddRule(header, fallback)

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected the later rule to apply past the vetoed final rule, got %s", resp.FinalEffect)
	}

	var vetoedResult *RuleResult
	for i := range resp.MatchedRuleResults {
		if resp.MatchedRuleResults[i].Rule.Name == "gated final allow" {
			vetoedResult = &resp.MatchedRuleResults[i]
		}
	}
	if vetoedResult == nil {
		t.Fatalf("expected the vetoed rule to appear in the matched results")
	}
	if vetoedResult.DeterminedEffect != NotApplicable {
		t.Fatalf("expected NOT_APPLICABLE for the vetoed rule, got %s", vetoedResult.DeterminedEffect)
	}
}

func TestPostconditionScriptVotesNotApplicable(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	header := NewHeader("auditor", Any, Any, Any)
	rule := NewRule("self only").
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(Allow).
		WithPostconditionScript("pcontext.userId == 'dave@acme.com'").
		Build()
	_ = eng.AddRule(header, rule)

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Deny {
		t.Fatalf("expected deny when postcondition rejects, got %s", resp.FinalEffect)
	}
	found := false
	for _, rr := range resp.MatchedRuleResults {
		if rr.Rule.Name == "self only" {
			found = true
			if rr.DeterminedEffect != NotApplicable {
				t.Fatalf("expected NOT_APPLICABLE, got %s", rr.DeterminedEffect)
			}
		}
	}
	if !found {
		t.Fatalf("expected the URI-matched rule to appear in matched results")
	}
}

func TestScriptErrorAbortsCheck(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	header := NewHeader("auditor", Any, Any, Any)
	rule := NewRule("broken script").
		WithSecurityURI(SecurityURI{Header: header}).
		WithEffect(Allow).
		WithPostconditionScript("this is not a clause").
		Build()
	_ = eng.AddRule(header, rule)

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	if _, err := eng.CheckRules(ctx, pctx, rctx); err == nil {
		t.Fatalf("expected script evaluation error to abort the check")
	}
}

func TestReloadFromSourceInstallsPolicies(t *testing.T) {
	ctx := context.Background()

	header := NewHeader("viewer", "reports", Any, "view")
	src := PolicySourceFunc(func(ctx context.Context, realm string) ([]Policy, error) {
		return []Policy{{
			PrincipalID: "viewer",
			Realm:       realm,
			Rules: []*Rule{
				NewRule("viewer reads reports").
					WithSecurityURI(SecurityURI{Header: header}).
					WithEffect(Allow).
					Build(),
			},
		}}, nil
	})

	eng, _ := NewEngine(WithPolicySource(src))
	if err := eng.ReloadFromSource(ctx, "acme-com"); err != nil {
		t.Fatalf("ReloadFromSource: %v", err)
	}

	pctx := acmePrincipal("carol@acme.com", "viewer")
	rctx := NewResource("reports", "ledger", "view").Build()

	effect, err := eng.Evaluate(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if effect != Allow {
		t.Fatalf("expected allow from loaded policy, got %s", effect)
	}
}

func TestReloadKeepsWildcardIdentityPattern(t *testing.T) {
	ctx := context.Background()

	src := PolicySourceFunc(func(ctx context.Context, realm string) ([]Policy, error) {
		return []Policy{{
			PrincipalID: "carol@acme.com",
			Realm:       realm,
			Rules: []*Rule{
				NewRule("anyone reads reports").
					WithSecurityURI(SecurityURI{Header: NewHeader(Any, "reports", Any, "view")}).
					WithEffect(Allow).
					Build(),
			},
		}}, nil
	})

	eng, _ := NewEngine(WithPolicySource(src))
	if err := eng.ReloadFromSource(ctx, "acme-com"); err != nil {
		t.Fatalf("ReloadFromSource: %v", err)
	}

	rules := eng.RulesFor(NewHeader("carol@acme.com", Any, Any, Any))
	if len(rules) != 1 {
		t.Fatalf("expected one loaded rule under the principal, got %d", len(rules))
	}
	if rules[0].URI.Header.Identity != Any {
		t.Fatalf("expected wildcard identity preserved, got %q", rules[0].URI.Header.Identity)
	}

	// The wildcard must bind role-expanded URIs too, not just the
	// principal's own identity.
	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()
	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected allow from the wildcard rule, got %s", resp.FinalEffect)
	}
	roleMatched := false
	for _, ev := range resp.MatchEvents {
		if ev.RuleName == "anyone reads reports" && ev.Matched &&
			strings.HasPrefix(ev.PrincipalURI, "auditor:") {
			roleMatched = true
		}
	}
	if !roleMatched {
		t.Fatalf("expected the wildcard rule to match a role URI, events: %+v", resp.MatchEvents)
	}
}

func TestReloadFailureFallsBackToSystemRules(t *testing.T) {
	ctx := context.Background()

	calls := 0
	src := PolicySourceFunc(func(ctx context.Context, realm string) ([]Policy, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("store unavailable")
		}
		header := NewHeader("viewer", "reports", Any, "view")
		return []Policy{{
			PrincipalID: "viewer",
			Rules: []*Rule{
				NewRule("viewer reads reports").
					WithSecurityURI(SecurityURI{Header: header}).
					WithEffect(Allow).
					Build(),
			},
		}}, nil
	})

	eng, _ := NewEngine(WithPolicySource(src))
	if err := eng.ReloadFromSource(ctx, "acme-com"); err != nil {
		t.Fatalf("first reload: %v", err)
	}
	if err := eng.ReloadFromSource(ctx, "acme-com"); err != nil {
		t.Fatalf("failed reload should not surface an error: %v", err)
	}

	// external rules are gone, system rules survive
	if rules := eng.RulesFor(NewHeader("viewer", Any, Any, Any)); len(rules) != 0 {
		t.Fatalf("expected external rules dropped on failed reload, got %d", len(rules))
	}
	if rules := eng.RulesFor(NewHeader("user", Any, Any, Any)); len(rules) == 0 {
		t.Fatalf("expected system rules to survive a failed reload")
	}
}

func TestReloadSkipsRulesWithoutIdentity(t *testing.T) {
	ctx := context.Background()

	// a raw rule whose header carries no identity, from a policy with no
	// principal either
	orphan := &Rule{
		Name:   "orphan",
		URI:    SecurityURI{Header: SecurityURIHeader{Area: "reports", FunctionalDomain: Any, Action: "view"}},
		Effect: Allow,
	}
	src := PolicySourceFunc(func(ctx context.Context, realm string) ([]Policy, error) {
		return []Policy{{Rules: []*Rule{orphan}}}, nil
	})

	eng, _ := NewEngine(WithPolicySource(src))
	if err := eng.ReloadFromSource(ctx, "acme-com"); err != nil {
		t.Fatalf("ReloadFromSource: %v", err)
	}
	if rules := eng.RulesFor(NewHeader(Any, Any, Any, Any)); len(rules) != 0 {
		t.Fatalf("expected orphan rule skipped, got %d rules", len(rules))
	}
}

func TestClearResetsToSystemRules(t *testing.T) {
	eng, _ := NewEngine()
	header := NewHeader("auditor", Any, Any, Any)
	_ = eng.AddRule(header, auditorRule("custom", Allow, 3, false))

	if len(eng.RulesFor(header)) != 1 {
		t.Fatalf("expected custom rule present before clear")
	}
	eng.Clear()
	if len(eng.RulesFor(header)) != 0 {
		t.Fatalf("expected custom rule gone after clear")
	}
	if len(eng.RulesFor(NewHeader("user", Any, Any, Any))) == 0 {
		t.Fatalf("expected system rules after clear")
	}
}

func TestVersionAdvancesOnEveryPublish(t *testing.T) {
	eng, _ := NewEngine()
	v0 := eng.Version()

	header := NewHeader("auditor", Any, Any, Any)
	_ = eng.AddRule(header, auditorRule("custom", Allow, 3, false))
	v1 := eng.Version()
	if v1 <= v0 {
		t.Fatalf("expected version to advance on add, %d -> %d", v0, v1)
	}
	eng.Clear()
	if eng.Version() <= v1 {
		t.Fatalf("expected version to advance on clear")
	}
}

func TestEvaluateAfterReloadSeesNewRules(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()
	if err := eng.ConfigureDecisionCache(1000, 10000, 64); err != nil {
		t.Fatalf("ConfigureDecisionCache: %v", err)
	}

	pctx := acmePrincipal("carol@acme.com", "auditor")
	rctx := NewResource("reports", "ledger", "view").Build()

	effect, err := eng.Evaluate(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if effect != Deny {
		t.Fatalf("expected deny before rule install, got %s", effect)
	}

	header := NewHeader("auditor", Any, Any, Any)
	_ = eng.AddRule(header, auditorRule("open up", Allow, 1, true))

	// the cache key carries the snapshot version, so the old decision
	// cannot be served
	effect, err = eng.Evaluate(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if effect != Allow {
		t.Fatalf("expected allow after rule install, got %s", effect)
	}
}

func TestConcurrentChecksDuringPublish(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	pctx := acmePrincipal("alice@acme.com", "user")
	rctx := NewResource("ecommerce", "order", "view").Build()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				resp, err := eng.CheckRules(ctx, pctx, rctx)
				if err != nil {
					t.Errorf("CheckRules: %v", err)
					return
				}
				if resp.FinalEffect != Allow {
					t.Errorf("expected allow, got %s", resp.FinalEffect)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		header := NewHeader("auditor", Any, Any, Any)
		for j := 0; j < 50; j++ {
			_ = eng.AddRule(header, auditorRule(fmt.Sprintf("r%d", j), Allow, j, false))
		}
	}()
	wg.Wait()
}

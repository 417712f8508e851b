package secrules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/end2endlogic-com/quantum-framework-sub001/logger"
	"github.com/end2endlogic-com/quantum-framework-sub001/utils"
)

// identityRule pairs a rule with the identity it is keyed under.
type identityRule struct {
	identity string
	rule     *Rule
}

// snapshot is one immutable generation of the rule base. Readers load it
// once per call and never see a later mutation; reloads build a fresh
// snapshot and swap it in atomically.
type snapshot struct {
	version uint64
	rules   map[string][]*Rule
	index   *RuleIndex
}

// Engine is the tenant-aware policy rule engine: an identity-keyed rule
// base seeded with system rules, the evaluation algorithm, and filter
// composition. Safe for concurrent use; reloads are serialized and
// published as atomic snapshot swaps.
type Engine struct {
	log           logger.Logger
	source        PolicySource
	parser        FilterParser
	scripts       ScriptEvaluator
	resolvers     []AccessListResolver
	caseMode      utils.CaseMode
	ids           systemIdentities
	defaultRealm  string
	indexEnabled  bool
	scriptTimeout time.Duration

	decisions *ristretto.Cache

	version  atomic.Uint64
	snap     atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithPolicySource(src PolicySource) Option {
	return func(e *Engine) { e.source = src }
}

func WithFilterParser(p FilterParser) Option {
	return func(e *Engine) { e.parser = p }
}

func WithScriptEvaluator(s ScriptEvaluator) Option {
	return func(e *Engine) { e.scripts = s }
}

// WithScriptTimeout bounds each condition-script evaluation. Zero means
// no bound beyond the caller's context.
func WithScriptTimeout(d time.Duration) Option {
	return func(e *Engine) { e.scriptTimeout = d }
}

// WithCaseSensitiveMatching switches URI matching to case-sensitive.
// The default is insensitive, which is what production rule bases
// assume.
func WithCaseSensitiveMatching() Option {
	return func(e *Engine) { e.caseMode = utils.CaseSensitive }
}

// WithIndex enables the discrimination-trie candidate index, rebuilt on
// every reload.
func WithIndex() Option {
	return func(e *Engine) { e.indexEnabled = true }
}

func WithAccessListResolver(r AccessListResolver) Option {
	return func(e *Engine) { e.resolvers = append(e.resolvers, r) }
}

func WithDefaultRealm(realm string) Option {
	return func(e *Engine) { e.defaultRealm = strings.ToLower(realm) }
}

// NewEngine builds an engine seeded with the system rules. Without a
// policy source it evaluates against system rules only.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		log:          logger.NewNullLogger(),
		parser:       NewFragmentParser(),
		scripts:      NewExprEvaluator(),
		caseMode:     utils.CaseInsensitive,
		ids:          defaultSystemIdentities(),
		defaultRealm: SystemRealm,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.install(e.buildSnapshot(nil))
	return e, nil
}

// ConfigureDecisionCache attaches a ristretto cache for the Evaluate
// fast path. Cached entries are keyed by snapshot version, so a reload
// implicitly invalidates every prior decision.
func (e *Engine) ConfigureDecisionCache(numCounters, maxCost, bufferItems int64) error {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return fmt.Errorf("decision cache: %w", err)
	}
	e.decisions = cache
	return nil
}

// Version reports the generation of the currently published rule base.
func (e *Engine) Version() uint64 {
	return e.snap.Load().version
}

// RegisterAccessListResolver adds a resolver whose collection becomes
// available to filter fragments under its key. Registration is not safe
// concurrently with GetFilters; register during wiring.
func (e *Engine) RegisterAccessListResolver(r AccessListResolver) {
	e.resolvers = append(e.resolvers, r)
}

// buildSnapshot assembles a new generation: system rules first, then the
// supplied external rules, each identity's list stable-sorted by
// priority ascending.
func (e *Engine) buildSnapshot(external []identityRule) *snapshot {
	rules := make(map[string][]*Rule)
	for _, ir := range systemRules(e.ids) {
		rules[ir.identity] = append(rules[ir.identity], ir.rule)
	}
	for _, ir := range external {
		rules[ir.identity] = append(rules[ir.identity], ir.rule)
	}
	for _, list := range rules {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	}

	snap := &snapshot{
		version: e.version.Add(1),
		rules:   rules,
	}
	if e.indexEnabled {
		snap.index = BuildRuleIndex(snap.version, rules, e.log)
	}
	return snap
}

func (e *Engine) install(snap *snapshot) {
	e.snap.Store(snap)
}

// AddRule registers a rule under the header's identity. Publication is
// copy-on-write, so concurrent readers keep their snapshot.
func (e *Engine) AddRule(header SecurityURIHeader, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	header = header.Normalize()

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	cur := e.snap.Load()
	rules := make(map[string][]*Rule, len(cur.rules)+1)
	for k, v := range cur.rules {
		list := make([]*Rule, len(v), len(v)+1)
		copy(list, v)
		rules[k] = list
	}
	list := append(rules[header.Identity], rule)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	rules[header.Identity] = list

	snap := &snapshot{version: e.version.Add(1), rules: rules}
	if e.indexEnabled {
		snap.index = BuildRuleIndex(snap.version, rules, e.log)
	}
	e.install(snap)
	return nil
}

// RulesFor returns the current rule list for an identity, or nil.
// Callers must not mutate the returned slice.
func (e *Engine) RulesFor(header SecurityURIHeader) []*Rule {
	return e.snap.Load().rules[header.Normalize().Identity]
}

// Clear resets the rule base to the built-in system rules.
func (e *Engine) Clear() {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	e.install(e.buildSnapshot(nil))
}

// ReloadFromSource rebuilds the whole rule base for a realm from the
// policy source: system rules first, then every policy's rules keyed by
// the rule header's identity, falling back to the policy principal id
// when the header carries none. Rules with neither are skipped with a
// warning. A source failure never leaves the engine ruleless: it falls
// back to system rules only, logs a warning, and reports success so
// decision-making continues in a degraded but deny-safe state.
func (e *Engine) ReloadFromSource(ctx context.Context, realm string) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.source == nil {
		e.install(e.buildSnapshot(nil))
		return nil
	}

	policies, err := e.source.ListPolicies(ctx, realm)
	if err != nil {
		e.log.Warn("policy reload failed, falling back to system rules",
			"realm", realm, "error", err.Error())
		e.install(e.buildSnapshot(nil))
		return nil
	}

	var external []identityRule
	for _, policy := range policies {
		for _, rule := range policy.Rules {
			identity := rule.URI.Header.Identity
			if identity == "" {
				identity = policy.PrincipalID
			}
			if identity == "" {
				e.log.Warn("skipping rule with no identity and no principal",
					"rule", rule.Name, "realm", realm)
				continue
			}
			if err := rule.Validate(); err != nil {
				e.log.Warn("skipping invalid rule", "rule", rule.Name, "error", err.Error())
				continue
			}
			// The rule is keyed under the identity, but its URI pattern
			// stays untouched so a wildcard identity keeps matching any
			// expanded principal URI, role entries included.
			normalized := *rule
			normalized.URI = NewSecurityURI(rule.URI.Header, rule.URI.Body)
			external = append(external, identityRule{
				identity: strings.ToLower(identity),
				rule:     &normalized,
			})
		}
	}

	snap := e.buildSnapshot(external)
	e.install(snap)
	e.log.Info("rule base reloaded", "realm", realm,
		"policies", len(policies), "rules", len(external), "version", int(snap.version))
	return nil
}

// createURIForIdentity mirrors the principal and resource contexts into
// a concrete SecurityURI for one identity. The owner id is the identity
// itself, so owner-scoped rule patterns can bind against it.
func createURIForIdentity(identity string, pctx *PrincipalContext, rctx *ResourceContext) SecurityURI {
	body := SecurityURIBody{
		Realm:         pctx.DefaultRealm,
		OrgRefName:    pctx.DataDomain.OrgRefName,
		AccountNumber: pctx.DataDomain.AccountNum,
		TenantID:      pctx.DataDomain.TenantID,
		DataSegment:   pctx.DataDomain.SegmentString(),
		OwnerID:       identity,
		ResourceID:    rctx.ResourceID,
	}
	header := NewHeader(identity, rctx.Area, rctx.FunctionalDomain, rctx.Action)
	return SecurityURI{Header: header, Body: body.Normalize()}
}

// expandPrincipalURIs builds one candidate URI per identity the
// principal carries: roles first in declaration order, then the user id
// itself.
func expandPrincipalURIs(pctx *PrincipalContext, rctx *ResourceContext) []SecurityURI {
	uris := make([]SecurityURI, 0, len(pctx.Roles)+1)
	for _, role := range pctx.Roles {
		uris = append(uris, createURIForIdentity(role, pctx, rctx))
	}
	uris = append(uris, createURIForIdentity(pctx.UserID, pctx, rctx))
	return uris
}

// applicableRules gathers the candidate rules for this principal: the
// user id's list first, then each role's list in declaration order, then
// one stable sort by priority so equal priorities keep that order.
// Duplicates are not removed; a rule keyed under two held identities
// appears twice. With the index enabled the candidate set comes from the
// trie instead; either way every candidate is re-verified by the
// authoritative matcher in checkRules.
func (snap *snapshot) applicableRules(pctx *PrincipalContext, rctx *ResourceContext) []*Rule {
	identities := make([]string, 0, len(pctx.Roles)+1)
	identities = append(identities, pctx.UserID)
	identities = append(identities, pctx.Roles...)

	var applicable []*Rule
	if snap.index != nil {
		applicable = snap.index.CandidateRules(identities, rctx)
	} else {
		for _, identity := range identities {
			applicable = append(applicable, snap.rules[strings.ToLower(identity)]...)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		return applicable[i].Priority < applicable[j].Priority
	})
	return applicable
}

// CheckRules evaluates the rule base for this principal and resource
// assuming a DENY default.
func (e *Engine) CheckRules(ctx context.Context, pctx *PrincipalContext, rctx *ResourceContext) (*SecurityCheckResponse, error) {
	return e.CheckRulesWithDefault(ctx, pctx, rctx, Deny)
}

// CheckRulesWithDefault runs the evaluation algorithm: candidate rules
// in priority order, each compared against every expanded identity URI
// in roles-then-user order. Scripts run only for rules whose URI
// actually matched: a false precondition vetoes the rule with a
// NOT_APPLICABLE result and moves on to the next rule, and a false
// postcondition votes the match NOT_APPLICABLE. Otherwise a matching
// rule contributes its effect, and a matching final rule stops
// everything. When several identity URIs match the same rule, the last
// matching URI's contribution stands.
//
// A script evaluation error aborts the check; callers must treat the
// error as a denial, never as an allow.
func (e *Engine) CheckRulesWithDefault(ctx context.Context, pctx *PrincipalContext, rctx *ResourceContext, defaultEffect Effect) (*SecurityCheckResponse, error) {
	snap := e.snap.Load()

	response := &SecurityCheckResponse{
		Principal:   pctx,
		Resource:    rctx,
		FinalEffect: defaultEffect,
	}

	applicable := snap.applicableRules(pctx, rctx)
	expanded := expandPrincipalURIs(pctx, rctx)
	response.ApplicableSecurityURIs = append(response.ApplicableSecurityURIs, expanded...)

	e.log.Debug("checking permissions", "user", pctx.UserID,
		"action", rctx.Action, "rules", len(applicable), "uris", len(expanded))

	complete := false
	for _, rule := range applicable {
		response.EvaluatedRules = append(response.EvaluatedRules, rule)

		ruleURI := rule.URI.URIString()
		for _, principalURI := range expanded {
			candidate := principalURI.URIString()

			if !utils.Match(candidate, ruleURI, e.caseMode) {
				response.MatchEvents = append(response.MatchEvents, MatchEvent{
					PrincipalURI: candidate,
					RuleURI:      ruleURI,
					RuleName:     rule.Name,
					Matched:      false,
					Difference:   utils.Difference(candidate, ruleURI),
				})
				continue
			}

			result := RuleResult{Rule: rule}
			event := MatchEvent{
				PrincipalURI: candidate,
				RuleURI:      ruleURI,
				RuleName:     rule.Name,
				Matched:      true,
				Difference:   utils.Difference(candidate, ruleURI),
			}

			if rule.PreconditionScript != "" {
				ok, err := e.runScript(ctx, rule.PreconditionScript, pctx, rctx)
				if err != nil {
					return nil, fmt.Errorf("precondition script for rule %q: %w", rule.Name, err)
				}
				event.PreScript = rule.PreconditionScript
				event.PreScriptResult = ok
				if !ok {
					result.DeterminedEffect = NotApplicable
					response.MatchedRuleResults = append(response.MatchedRuleResults, result)
					response.MatchEvents = append(response.MatchEvents, event)
					// A vetoed rule never halts evaluation, final or not.
					break
				}
			}

			if rule.PostconditionScript != "" {
				ok, err := e.runScript(ctx, rule.PostconditionScript, pctx, rctx)
				if err != nil {
					return nil, fmt.Errorf("postcondition script for rule %q: %w", rule.Name, err)
				}
				event.PostScript = rule.PostconditionScript
				event.PostScriptResult = ok
				if ok {
					result.DeterminedEffect = determined(rule.Effect)
					response.FinalEffect = rule.Effect
				} else {
					result.DeterminedEffect = NotApplicable
				}
			} else {
				result.DeterminedEffect = determined(rule.Effect)
				response.FinalEffect = rule.Effect
			}

			response.MatchedRuleResults = append(response.MatchedRuleResults, result)
			response.MatchEvents = append(response.MatchEvents, event)

			if rule.FinalRule {
				complete = true
				break
			}
		}
		if complete {
			break
		}
	}
	return response, nil
}

func (e *Engine) runScript(ctx context.Context, script string, pctx *PrincipalContext, rctx *ResourceContext) (bool, error) {
	if e.scriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.scriptTimeout)
		defer cancel()
	}
	return e.scripts.Evaluate(ctx, script, pctx, rctx)
}

// Evaluate is the fast path: just the effect, served from the decision
// cache when one is configured. The cache key includes the snapshot
// version, so reloads invalidate implicitly.
func (e *Engine) Evaluate(ctx context.Context, pctx *PrincipalContext, rctx *ResourceContext) (Effect, error) {
	var key string
	if e.decisions != nil {
		key = e.decisionKey(pctx, rctx)
		if v, ok := e.decisions.Get(key); ok {
			if eff, ok := v.(Effect); ok {
				return eff, nil
			}
		}
	}

	resp, err := e.CheckRules(ctx, pctx, rctx)
	if err != nil {
		return Deny, err
	}
	if e.decisions != nil {
		e.decisions.Set(key, resp.FinalEffect, 1)
	}
	return resp.FinalEffect, nil
}

func (e *Engine) decisionKey(pctx *PrincipalContext, rctx *ResourceContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v%d|", e.snap.Load().version)
	b.WriteString(createURIForIdentity(pctx.UserID, pctx, rctx).URIString())
	for _, role := range pctx.Roles {
		b.WriteByte('|')
		b.WriteString(role)
	}
	return b.String()
}

// GetFilters composes the data filters a read by this principal must be
// constrained with. It evaluates the rule base (DENY default) and walks
// the matched rules in order, parsing their filter fragments with the
// standard variables plus any resolver-contributed collections, merging
// pending AND/OR groups by each rule's join operator, stopping at a
// final rule. The result is the caller's filters plus the composed ones,
// de-duplicated by string rendering. A fragment that fails to parse is a
// configuration error and aborts with it.
func (e *Engine) GetFilters(ctx context.Context, ifilters []Filter, pctx *PrincipalContext, rctx *ResourceContext) ([]Filter, error) {
	response, err := e.CheckRules(ctx, pctx, rctx)
	if err != nil {
		return nil, err
	}

	vars := StandardVariables(pctx, rctx, e.ids.tenantID)
	if err := applyResolvers(ctx, e.resolvers, vars, pctx, rctx); err != nil {
		return nil, fmt.Errorf("access list resolution: %w", err)
	}

	collected := make([]Filter, 0, len(ifilters))
	collected = append(collected, ifilters...)

	for _, result := range response.MatchedRuleResults {
		if result.DeterminedEffect == NotApplicable {
			continue
		}
		rule := result.Rule

		// Fresh groups per rule so fragments never leak across rules.
		var andFilters, orFilters []Filter

		if rule.AndFilterString != "" {
			f, err := e.parser.Parse(rule.AndFilterString, vars)
			if err != nil {
				return nil, fmt.Errorf("and filter of rule %q: %w", rule.Name, err)
			}
			andFilters = append(andFilters, f)
		}
		if rule.OrFilterString != "" {
			f, err := e.parser.Parse(rule.OrFilterString, vars)
			if err != nil {
				return nil, fmt.Errorf("or filter of rule %q: %w", rule.Name, err)
			}
			orFilters = append(orFilters, f)
		}

		if len(andFilters) > 0 && len(orFilters) > 0 {
			if rule.joinOp() == JoinAnd {
				merged := append(copyFilters(andFilters), Or(orFilters...))
				collected = append(collected, And(merged...))
			} else {
				merged := append(copyFilters(orFilters), And(andFilters...))
				collected = append(collected, Or(merged...))
			}
		} else if len(andFilters) > 0 {
			collected = append(collected, andFilters...)
		} else if len(orFilters) > 0 {
			collected = append(collected, Or(orFilters...))
		}

		if rule.FinalRule {
			break
		}
	}

	return dedupeFilters(collected), nil
}

func copyFilters(src []Filter) []Filter {
	out := make([]Filter, len(src))
	copy(out, src)
	return out
}

// GetRealmID resolves which realm policies should be loaded for. For
// now this is the principal's default realm, or the engine's configured
// default when no principal is available.
func (e *Engine) GetRealmID(pctx *PrincipalContext, rctx *ResourceContext) string {
	if pctx != nil {
		return pctx.DefaultRealm
	}
	return e.defaultRealm
}

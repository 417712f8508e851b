package secrules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ScriptEvaluator runs a rule's pre/postcondition script against the
// principal and resource bindings and reports the boolean verdict.
// Implementations must treat the contexts as read-only. Sandboxing and
// resource limits beyond the context deadline are the implementation's
// concern.
type ScriptEvaluator interface {
	Evaluate(ctx context.Context, script string, pctx *PrincipalContext, rctx *ResourceContext) (bool, error)
}

// exprEvaluator is the default ScriptEvaluator: a small closed
// expression language over pcontext.* and rcontext.* bindings with
// ==, !=, in [...] membership, '&&' and '||'. '&&' binds tighter.
// Scripts evaluate against snapshots of the contexts, so a script can
// never mutate evaluation state.
type exprEvaluator struct{}

// NewExprEvaluator returns the default condition-script evaluator.
func NewExprEvaluator() ScriptEvaluator { return exprEvaluator{} }

func (exprEvaluator) Evaluate(ctx context.Context, script string, pctx *PrincipalContext, rctx *ResourceContext) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	script = strings.TrimSpace(script)
	if script == "" {
		return true, nil
	}
	bindings := scriptBindings(pctx, rctx)

	for _, orPart := range strings.Split(script, "||") {
		andResult := true
		for _, andPart := range strings.Split(orPart, "&&") {
			ok, err := evalClause(strings.TrimSpace(andPart), bindings)
			if err != nil {
				return false, err
			}
			if !ok {
				andResult = false
				break
			}
		}
		if andResult {
			return true, nil
		}
	}
	return false, nil
}

func evalClause(clause string, bindings map[string]string) (bool, error) {
	switch clause {
	case "":
		return false, fmt.Errorf("empty script clause")
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if idx := strings.Index(clause, "!="); idx >= 0 {
		left := resolveOperand(clause[:idx], bindings)
		right := resolveOperand(clause[idx+2:], bindings)
		return !strings.EqualFold(left, right), nil
	}
	if idx := strings.Index(clause, "=="); idx >= 0 {
		left := resolveOperand(clause[:idx], bindings)
		right := resolveOperand(clause[idx+2:], bindings)
		return strings.EqualFold(left, right), nil
	}
	if idx := strings.Index(clause, " in "); idx >= 0 {
		left := resolveOperand(clause[:idx], bindings)
		list := strings.TrimSpace(clause[idx+4:])
		list = strings.TrimPrefix(list, "[")
		list = strings.TrimSuffix(list, "]")
		for _, item := range strings.Split(list, ",") {
			if strings.EqualFold(left, strings.Trim(strings.TrimSpace(item), "\"'")) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported script clause: %s", clause)
}

func resolveOperand(s string, bindings map[string]string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') {
		return strings.Trim(s, "\"'")
	}
	if v, ok := bindings[s]; ok {
		return v
	}
	return s
}

func scriptBindings(pctx *PrincipalContext, rctx *ResourceContext) map[string]string {
	return map[string]string{
		"pcontext.userId":                 pctx.UserID,
		"pcontext.defaultRealm":           pctx.DefaultRealm,
		"pcontext.scope":                  pctx.Scope,
		"pcontext.roles":                  strings.Join(pctx.Roles, ","),
		"pcontext.dataDomain.orgRefName":  pctx.DataDomain.OrgRefName,
		"pcontext.dataDomain.accountNum":  pctx.DataDomain.AccountNum,
		"pcontext.dataDomain.tenantId":    pctx.DataDomain.TenantID,
		"pcontext.dataDomain.ownerId":     pctx.DataDomain.OwnerID,
		"pcontext.dataDomain.dataSegment": strconv.Itoa(pctx.DataDomain.DataSegment),
		"rcontext.area":                   rctx.Area,
		"rcontext.functionalDomain":       rctx.FunctionalDomain,
		"rcontext.action":                 rctx.Action,
		"rcontext.resourceId":             rctx.ResourceID,
		"rcontext.realm":                  rctx.Realm,
	}
}

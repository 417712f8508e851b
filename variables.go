package secrules

import (
	"context"
	"strings"
)

// VariableBundle carries the substitution material for filter-string
// parsing: plain string variables for ${name} tokens plus arbitrary
// objects (resolver-contributed collections and the like). Objects that
// are also needed as ${name} tokens get stringified into Strings.
type VariableBundle struct {
	Strings map[string]string
	Objects map[string]any
}

func NewVariableBundle() *VariableBundle {
	return &VariableBundle{
		Strings: make(map[string]string),
		Objects: make(map[string]any),
	}
}

// StandardVariables builds the conventional variable map from the
// principal and resource contexts. Keys follow the names filter
// fragments are written against.
func StandardVariables(pctx *PrincipalContext, rctx *ResourceContext, systemTenantID string) *VariableBundle {
	vars := NewVariableBundle()
	vars.Strings["principalId"] = pctx.UserID
	vars.Strings["identity"] = pctx.UserID
	vars.Strings["pAccountId"] = pctx.DataDomain.AccountNum
	vars.Strings["pTenantId"] = pctx.DataDomain.TenantID
	vars.Strings["systemTenantId"] = systemTenantID
	vars.Strings["ownerId"] = pctx.DataDomain.OwnerID
	vars.Strings["orgRefName"] = pctx.DataDomain.OrgRefName
	vars.Strings["defaultRealm"] = pctx.DefaultRealm
	if rctx.ResourceID != "" {
		vars.Strings["resourceId"] = rctx.ResourceID
	}
	vars.Strings["action"] = rctx.Action
	vars.Strings["functionalDomain"] = rctx.FunctionalDomain
	vars.Strings["area"] = rctx.Area
	return vars
}

// Substitute replaces ${name} tokens with the bundle's string values.
// Unknown tokens are left in place, matching the substitutor the filter
// grammar historically ran under.
func (v *VariableBundle) Substitute(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			out.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			out.WriteString(s)
			break
		}
		end += start
		out.WriteString(s[:start])
		name := s[start+2 : end]
		if val, ok := v.Strings[name]; ok {
			out.WriteString(val)
		} else {
			out.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return out.String()
}

// AccessListResolver contributes one named, externally computed
// collection (visible record ids, graph-derived sets) into the variable
// bundle before filter fragments are parsed. Implementations should keep
// Supports cheap and permissive; Resolve may hit external stores.
type AccessListResolver interface {
	Key() string
	Supports(pctx *PrincipalContext, rctx *ResourceContext) bool
	Resolve(ctx context.Context, pctx *PrincipalContext, rctx *ResourceContext) ([]string, error)
}

// applyResolvers folds every supporting resolver's collection into the
// bundle, both as an object and as a comma-joined string token so
// fragments can reference it either way.
func applyResolvers(ctx context.Context, resolvers []AccessListResolver, vars *VariableBundle, pctx *PrincipalContext, rctx *ResourceContext) error {
	for _, r := range resolvers {
		if !r.Supports(pctx, rctx) {
			continue
		}
		values, err := r.Resolve(ctx, pctx, rctx)
		if err != nil {
			return err
		}
		vars.Objects[r.Key()] = values
		if _, exists := vars.Strings[r.Key()]; !exists {
			vars.Strings[r.Key()] = strings.Join(values, ",")
		}
	}
	return nil
}

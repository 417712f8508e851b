package secrules

// Platform identity constants. Overridable per engine through Config.
const (
	SystemUserID        = "system@system.com"
	SystemRealm         = "system-com"
	SystemOrgRefName    = "system.com"
	SystemAccountNumber = "0000000000"
	SystemTenantID      = "system.com"
	AnonymousUserID     = "anonymous@system.com"
	SystemRole          = "system"
	SecurityArea        = "security"
	DefaultDataSegment  = 0
)

// systemIdentities describes the engine-level identity constants one
// engine instance runs with.
type systemIdentities struct {
	userID        string
	realm         string
	orgRefName    string
	accountNumber string
	tenantID      string
	anonymousID   string
}

func defaultSystemIdentities() systemIdentities {
	return systemIdentities{
		userID:        SystemUserID,
		realm:         SystemRealm,
		orgRefName:    SystemOrgRefName,
		accountNumber: SystemAccountNumber,
		tenantID:      SystemTenantID,
		anonymousID:   AnonymousUserID,
	}
}

func (s systemIdentities) securityHeader() SecurityURIHeader {
	return NewHeader(s.userID, SecurityArea, Any, Any)
}

func (s systemIdentities) securityBody() SecurityURIBody {
	return SecurityURIBody{
		Realm:         s.realm,
		OrgRefName:    s.orgRefName,
		AccountNumber: s.accountNumber,
		TenantID:      s.tenantID,
		OwnerID:       s.userID,
	}.Normalize()
}

// systemRules builds the built-in rule set that is re-added ahead of any
// externally loaded policy on every rebuild. These hold regardless of
// what the policy source contains.
func systemRules(ids systemIdentities) []identityRule {
	var out []identityRule
	add := func(header SecurityURIHeader, rule *Rule) {
		out = append(out, identityRule{identity: header.Identity, rule: rule})
	}

	// the system user can do anything inside the security area
	sysHeader := ids.securityHeader()
	add(sysHeader, NewRule("SysAnyActionSecurity").
		WithDescription("System can take any action within security").
		WithSecurityURI(SecurityURI{Header: sysHeader, Body: ids.securityBody()}).
		WithEffect(Allow).
		WithPriority(0).
		WithFinalRule(true).
		Build())

	// so can anyone holding the system role
	roleHeader := sysHeader.WithIdentity(SystemRole)
	add(roleHeader, NewRule("SysRoleAnyActionSecurity").
		WithDescription("system role can take any action within security").
		WithSecurityURI(SecurityURI{Header: roleHeader, Body: ids.securityBody()}).
		WithEffect(Allow).
		WithPriority(1).
		WithFinalRule(true).
		Build())

	// holders of the "user" role may act on records they own in the
	// default data segment. Expressed as an AND filter so reads still
	// get constrained rather than wholesale allowed.
	userHeader := NewHeader("user", Any, Any, Any)
	anyBody := SecurityURIBody{}.Normalize()
	add(userHeader, NewRule("view your own resources, limit to default dataSegment").
		WithSecurityURI(SecurityURI{Header: userHeader, Body: anyBody}).
		WithAndFilterString("dataDomain.ownerId:${principalId}&&dataDomain.dataSegment:#0").
		WithEffect(Allow).
		WithFinalRule(false).
		Build())

	// but they can never delete anything in the security area
	denyHeader := NewHeader("user", "Security", Any, "DELETE")
	add(denyHeader, NewRule("users can't delete anything in security area").
		WithSecurityURI(SecurityURI{Header: denyHeader, Body: anyBody}).
		WithAndFilterString("dataDomain.ownerId:${principalId}&&dataDomain.dataSegment:#0").
		WithEffect(Deny).
		WithFinalRule(true).
		Build())

	// tenant admins administer records within their own tenant
	adminHeader := NewHeader("admin", Any, Any, Any)
	add(adminHeader, NewRule("tenant admin can administer the tenant records").
		WithSecurityURI(SecurityURI{Header: adminHeader, Body: anyBody}).
		WithAndFilterString("dataDomain.tenantId:${pTenantId}").
		WithEffect(Allow).
		WithFinalRule(true).
		Build())

	// anonymous onboarding and contact actions, scoped to the system
	// realm/tenant/account only
	anonBody := SecurityURIBody{
		Realm:         ids.realm,
		TenantID:      ids.tenantID,
		AccountNumber: ids.accountNumber,
	}.Normalize()

	anonRegister := NewHeader("ANONYMOUS", "onboarding", "registrationRequest", "create")
	add(anonRegister, NewRule("anonymous user can call register").
		WithSecurityURI(SecurityURI{Header: anonRegister, Body: anonBody}).
		WithAndFilterString("dataDomain.tenantId:${pTenantId}").
		WithEffect(Allow).
		WithFinalRule(true).
		Build())

	anonContact := NewHeader("ANONYMOUS", "website", "contactus", "create")
	add(anonContact, NewRule("anonymous user can call contactus").
		WithSecurityURI(SecurityURI{Header: anonContact, Body: anonBody}).
		WithAndFilterString("dataDomain.tenantId:${pTenantId}").
		WithEffect(Allow).
		WithFinalRule(true).
		Build())

	return out
}

package secrules

import "strconv"

// DataDomain pins a record (or a principal) to its organization, account,
// tenant, segment, and owner.
type DataDomain struct {
	OrgRefName  string `json:"org_ref_name" yaml:"org_ref_name"`
	AccountNum  string `json:"account_num" yaml:"account_num"`
	TenantID    string `json:"tenant_id" yaml:"tenant_id"`
	DataSegment int    `json:"data_segment" yaml:"data_segment"`
	OwnerID     string `json:"owner_id" yaml:"owner_id"`
}

// PrincipalContext describes who is asking: a user id, the roles they
// hold (ordered, duplicates allowed), and the scope they operate in.
type PrincipalContext struct {
	UserID       string     `json:"user_id" yaml:"user_id"`
	Roles        []string   `json:"roles" yaml:"roles"`
	DefaultRealm string     `json:"default_realm" yaml:"default_realm"`
	DataDomain   DataDomain `json:"data_domain" yaml:"data_domain"`
	Scope        string     `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// ResourceContext describes what is being asked for.
type ResourceContext struct {
	Area             string `json:"area" yaml:"area"`
	FunctionalDomain string `json:"functional_domain" yaml:"functional_domain"`
	Action           string `json:"action" yaml:"action"`
	ResourceID       string `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
	Realm            string `json:"realm,omitempty" yaml:"realm,omitempty"`
}

// PrincipalBuilder assembles a PrincipalContext fluently.
type PrincipalBuilder struct {
	p PrincipalContext
}

func NewPrincipal(userID string) *PrincipalBuilder {
	return &PrincipalBuilder{p: PrincipalContext{UserID: userID}}
}

func (b *PrincipalBuilder) WithRoles(roles ...string) *PrincipalBuilder {
	b.p.Roles = append(b.p.Roles, roles...)
	return b
}

func (b *PrincipalBuilder) WithDefaultRealm(realm string) *PrincipalBuilder {
	b.p.DefaultRealm = realm
	return b
}

func (b *PrincipalBuilder) WithDataDomain(dd DataDomain) *PrincipalBuilder {
	b.p.DataDomain = dd
	return b
}

func (b *PrincipalBuilder) WithScope(scope string) *PrincipalBuilder {
	b.p.Scope = scope
	return b
}

func (b *PrincipalBuilder) Build() *PrincipalContext {
	p := b.p
	return &p
}

// ResourceBuilder assembles a ResourceContext fluently.
type ResourceBuilder struct {
	r ResourceContext
}

func NewResource(area, functionalDomain, action string) *ResourceBuilder {
	return &ResourceBuilder{r: ResourceContext{
		Area:             area,
		FunctionalDomain: functionalDomain,
		Action:           action,
	}}
}

func (b *ResourceBuilder) WithResourceID(id string) *ResourceBuilder {
	b.r.ResourceID = id
	return b
}

func (b *ResourceBuilder) WithRealm(realm string) *ResourceBuilder {
	b.r.Realm = realm
	return b
}

func (b *ResourceBuilder) Build() *ResourceContext {
	r := b.r
	return &r
}

// SegmentString renders the numeric data segment the way URI bodies
// carry it.
func (d DataDomain) SegmentString() string {
	return strconv.Itoa(d.DataSegment)
}

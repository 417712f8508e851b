package secrules

import "strings"

// The header names WHO a rule applies to and WHAT they are trying to do.
// Identity is either a concrete user id or a role name; every field may
// be "*" to match anything.
type SecurityURIHeader struct {
	Identity         string `json:"identity" yaml:"identity"`
	Area             string `json:"area" yaml:"area"`
	FunctionalDomain string `json:"functional_domain" yaml:"functional_domain"`
	Action           string `json:"action" yaml:"action"`
}

// The body scopes WHICH records a rule applies to. Unset fields default
// to "*".
type SecurityURIBody struct {
	Realm         string `json:"realm" yaml:"realm"`
	OrgRefName    string `json:"org_ref_name" yaml:"org_ref_name"`
	AccountNumber string `json:"account_number" yaml:"account_number"`
	TenantID      string `json:"tenant_id" yaml:"tenant_id"`
	DataSegment   string `json:"data_segment" yaml:"data_segment"`
	OwnerID       string `json:"owner_id" yaml:"owner_id"`
	ResourceID    string `json:"resource_id" yaml:"resource_id"`
}

// SecurityURI is the compound match key attached to a rule and
// synthesized per evaluation from principal/resource context. Its
// canonical string is the unit the wildcard matcher compares.
type SecurityURI struct {
	Header SecurityURIHeader `json:"header" yaml:"header"`
	Body   SecurityURIBody   `json:"body" yaml:"body"`
}

const Any = "*"

func lowerOrAny(s string) string {
	if s == "" {
		return Any
	}
	return strings.ToLower(s)
}

// NewHeader builds a header with all fields lower-cased and empty fields
// widened to "*".
func NewHeader(identity, area, functionalDomain, action string) SecurityURIHeader {
	return SecurityURIHeader{
		Identity:         lowerOrAny(identity),
		Area:             lowerOrAny(area),
		FunctionalDomain: lowerOrAny(functionalDomain),
		Action:           lowerOrAny(action),
	}
}

// Normalize returns a copy with every field lower-cased and empty fields
// widened to "*".
func (h SecurityURIHeader) Normalize() SecurityURIHeader {
	return NewHeader(h.Identity, h.Area, h.FunctionalDomain, h.Action)
}

// Clone returns a copy, for mutate-then-rebuild call sites.
func (h SecurityURIHeader) Clone() SecurityURIHeader { return h }

// WithIdentity returns a copy keyed to a different identity.
func (h SecurityURIHeader) WithIdentity(identity string) SecurityURIHeader {
	h.Identity = lowerOrAny(identity)
	return h
}

// URIString renders the canonical colon-joined form:
// identity:area:functionalDomain:action
func (h SecurityURIHeader) URIString() string {
	return h.Identity + ":" + h.Area + ":" + h.FunctionalDomain + ":" + h.Action
}

func (h SecurityURIHeader) String() string { return h.URIString() }

func (b SecurityURIBody) Normalize() SecurityURIBody {
	return SecurityURIBody{
		Realm:         lowerOrAny(b.Realm),
		OrgRefName:    lowerOrAny(b.OrgRefName),
		AccountNumber: lowerOrAny(b.AccountNumber),
		TenantID:      lowerOrAny(b.TenantID),
		DataSegment:   lowerOrAny(b.DataSegment),
		OwnerID:       lowerOrAny(b.OwnerID),
		ResourceID:    lowerOrAny(b.ResourceID),
	}
}

func (b SecurityURIBody) Clone() SecurityURIBody { return b }

// URIString renders the canonical colon-joined form:
// realm:orgRefName:accountNumber:tenantId:dataSegment:ownerId:resourceId
// A missing resource id renders as "*".
func (b SecurityURIBody) URIString() string {
	rc := b.Realm + ":" + b.OrgRefName + ":" + b.AccountNumber + ":" + b.TenantID + ":" + b.DataSegment + ":" + b.OwnerID
	if b.ResourceID != "" {
		return rc + ":" + b.ResourceID
	}
	return rc + ":" + Any
}

func (b SecurityURIBody) String() string { return b.URIString() }

// NewSecurityURI normalizes both halves and combines them.
func NewSecurityURI(header SecurityURIHeader, body SecurityURIBody) SecurityURI {
	return SecurityURI{Header: header.Normalize(), Body: body.Normalize()}
}

// URIString is header + "|" + body; field order is stable and the whole
// string is what gets wildcard-matched, never individual segments.
func (u SecurityURI) URIString() string {
	return u.Header.URIString() + "|" + u.Body.URIString()
}

func (u SecurityURI) String() string { return u.URIString() }

func (u SecurityURI) Clone() SecurityURI { return u }

package secrules

import (
	"strings"

	"github.com/end2endlogic-com/quantum-framework-sub001/logger"
)

// indexNode is one level of the discrimination trie. Exact values hang
// off children; a "*" at this level hangs off the single wildcard child.
// Terminal nodes carry the rules whose header resolves to that path,
// already priority-sorted because the snapshot lists are.
type indexNode struct {
	children map[string]*indexNode
	wildcard *indexNode
	rules    []*Rule
}

func newIndexNode() *indexNode {
	return &indexNode{children: make(map[string]*indexNode)}
}

func (n *indexNode) child(key string) *indexNode {
	if key == Any {
		if n.wildcard == nil {
			n.wildcard = newIndexNode()
		}
		return n.wildcard
	}
	c, ok := n.children[key]
	if !ok {
		c = newIndexNode()
		n.children[key] = c
	}
	return c
}

// RuleIndex shrinks the candidate set before evaluation by walking a
// 4-level trie over identity, area, functional domain, and action. It is
// only a candidate optimization: every rule it returns is re-verified by
// the authoritative wildcard matcher. Built wholesale from one snapshot
// and stamped with its version; never patched in place.
type RuleIndex struct {
	version uint64
	root    *indexNode
}

// BuildRuleIndex constructs the trie from an identity-keyed rule map.
// Rules without a usable header are skipped individually with a warning
// rather than failing the build.
func BuildRuleIndex(version uint64, rules map[string][]*Rule, log logger.Logger) *RuleIndex {
	ix := &RuleIndex{version: version, root: newIndexNode()}
	for identity, list := range rules {
		for _, rule := range list {
			h := rule.URI.Header
			if h.Area == "" || h.FunctionalDomain == "" || h.Action == "" {
				log.Warn("skipping malformed rule during index build",
					"rule", rule.Name, "identity", identity)
				continue
			}
			node := ix.root.child(strings.ToLower(identity))
			node = node.child(h.Area)
			node = node.child(h.FunctionalDomain)
			node = node.child(h.Action)
			node.rules = append(node.rules, rule)
		}
	}
	return ix
}

// Version reports the snapshot generation this index was built from.
func (ix *RuleIndex) Version() uint64 { return ix.version }

// CandidateRules collects, for each identity, every rule reachable
// through the exact or wildcard branch at each level. Order is
// preserved and duplicates collapse, so the caller's priority sort sees
// each rule once.
func (ix *RuleIndex) CandidateRules(identities []string, rctx *ResourceContext) []*Rule {
	seen := make(map[*Rule]struct{})
	var out []*Rule

	area := strings.ToLower(rctx.Area)
	domain := strings.ToLower(rctx.FunctionalDomain)
	action := strings.ToLower(rctx.Action)

	for _, identity := range identities {
		level0 := matchLevel(ix.root, strings.ToLower(identity))
		for _, n0 := range level0 {
			for _, n1 := range matchLevel(n0, area) {
				for _, n2 := range matchLevel(n1, domain) {
					for _, n3 := range matchLevel(n2, action) {
						for _, rule := range n3.rules {
							if _, dup := seen[rule]; dup {
								continue
							}
							seen[rule] = struct{}{}
							out = append(out, rule)
						}
					}
				}
			}
		}
	}
	return out
}

// matchLevel returns the nodes a concrete value can continue through: an
// exact child when present plus the wildcard child, because a rule
// wildcarded at any level must stay reachable from every concrete query.
func matchLevel(n *indexNode, value string) []*indexNode {
	var next []*indexNode
	if c, ok := n.children[value]; ok {
		next = append(next, c)
	}
	if n.wildcard != nil {
		next = append(next, n.wildcard)
	}
	return next
}

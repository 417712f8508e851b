package stores

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func salesRule(name string) *secrules.Rule {
	return secrules.NewRule(name).
		WithSecurityURI(secrules.SecurityURI{
			Header: secrules.NewHeader("sales", "ordermgmt", "*", "view"),
		}).
		WithEffect(secrules.Allow).
		WithPriority(5).
		WithAndFilterString("dataDomain.tenantId:${pTenantId}").
		Build()
}

func TestSQLPolicySourceRoundtrip(t *testing.T) {
	db := newTestDB(t)
	src := NewSQLPolicySource(db)
	ctx := context.Background()

	policy := &StoredPolicy{
		ID:          "pol-1",
		Realm:       "acme-com",
		PrincipalID: "alice@acme.com",
		Rules: []*secrules.Rule{
			salesRule("sales can view orders"),
			secrules.NewRule("deny order purge").
				WithSecurityURI(secrules.SecurityURI{
					Header: secrules.NewHeader("sales", "ordermgmt", "*", "purge"),
				}).
				WithEffect(secrules.Deny).
				WithPriority(1).
				WithFinalRule(true).
				Build(),
		},
	}
	if err := src.CreatePolicy(ctx, policy); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	got, err := src.GetPolicy(ctx, "pol-1")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.PrincipalID != "alice@acme.com" || got.Realm != "acme-com" {
		t.Fatalf("unexpected policy document: %+v", got)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got.Rules))
	}
	// rules come back priority-ordered
	if got.Rules[0].Name != "deny order purge" || !got.Rules[0].FinalRule {
		t.Fatalf("expected final deny rule first, got %+v", got.Rules[0])
	}
	if got.Rules[1].URI.Header.Identity != "sales" {
		t.Fatalf("unexpected rule identity %q", got.Rules[1].URI.Header.Identity)
	}
	if got.Rules[1].AndFilterString != "dataDomain.tenantId:${pTenantId}" {
		t.Fatalf("unexpected and filter %q", got.Rules[1].AndFilterString)
	}
}

func TestSQLPolicySourceListByRealm(t *testing.T) {
	db := newTestDB(t)
	src := NewSQLPolicySource(db)
	ctx := context.Background()

	for _, p := range []*StoredPolicy{
		{ID: "pol-acme", Realm: "acme-com", PrincipalID: "a@acme.com", Rules: []*secrules.Rule{salesRule("r1")}},
		{ID: "pol-globex", Realm: "globex-com", PrincipalID: "b@globex.com", Rules: []*secrules.Rule{salesRule("r2")}},
		{ID: "pol-shared", Realm: "", PrincipalID: "shared", Rules: []*secrules.Rule{salesRule("r3")}},
	} {
		if err := src.CreatePolicy(ctx, p); err != nil {
			t.Fatalf("create %s: %v", p.ID, err)
		}
	}

	policies, err := src.ListPolicies(ctx, "acme-com")
	if err != nil {
		t.Fatalf("list policies: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected acme policy plus realmless policy, got %d", len(policies))
	}
}

func TestSQLPolicySourceUpdateKeepsHistory(t *testing.T) {
	db := newTestDB(t)
	src := NewSQLPolicySource(db)
	ctx := context.Background()

	policy := &StoredPolicy{
		ID:          "pol-1",
		Realm:       "acme-com",
		PrincipalID: "alice@acme.com",
		Rules:       []*secrules.Rule{salesRule("v1 rule")},
	}
	if err := src.CreatePolicy(ctx, policy); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	policy.Rules = []*secrules.Rule{salesRule("v2 rule")}
	if err := src.UpdatePolicy(ctx, policy); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	got, err := src.GetPolicy(ctx, "pol-1")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if len(got.Rules) != 1 || got.Rules[0].Name != "v2 rule" {
		t.Fatalf("expected replaced rules, got %+v", got.Rules)
	}

	history, err := src.PolicyHistory(ctx, "pol-1")
	if err != nil {
		t.Fatalf("policy history: %v", err)
	}
	if len(history) < 3 {
		t.Fatalf("expected create + pre-update + post-update snapshots, got %d", len(history))
	}
}

func TestMigrateCreatesAllTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"policies", "policy_rules", "policy_history"} {
		r, err := db.NamedQueryContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = :name`,
			map[string]any{"name": table})
		if err != nil {
			t.Fatalf("query sqlite_master for %s: %v", table, err)
		}
		exists := r.Next()
		r.Close()
		if !exists {
			t.Fatalf("expected table %s after migration", table)
		}
	}
}

func TestSQLPolicySourceUpdateMissingPolicyErrors(t *testing.T) {
	db := newTestDB(t)
	src := NewSQLPolicySource(db)
	ctx := context.Background()

	err := src.UpdatePolicy(ctx, &StoredPolicy{
		ID:          "pol-missing",
		Realm:       "acme-com",
		PrincipalID: "alice@acme.com",
		Rules:       []*secrules.Rule{salesRule("ghost rule")},
	})
	if err == nil {
		t.Fatalf("expected update of a missing policy to fail")
	}
}

func TestSQLPolicySourceFeedsEngineReload(t *testing.T) {
	db := newTestDB(t)
	src := NewSQLPolicySource(db)
	ctx := context.Background()

	if err := src.CreatePolicy(ctx, &StoredPolicy{
		ID:          "pol-1",
		Realm:       "acme-com",
		PrincipalID: "alice@acme.com",
		Rules:       []*secrules.Rule{salesRule("sales can view orders")},
	}); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	engine, err := secrules.NewEngine(secrules.WithPolicySource(src))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.ReloadFromSource(ctx, "acme-com"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	rules := engine.RulesFor(secrules.NewHeader("sales", "*", "*", "*"))
	if len(rules) != 1 || rules[0].Name != "sales can view orders" {
		t.Fatalf("expected loaded sales rule, got %+v", rules)
	}
}

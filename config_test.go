package secrules

import (
	"context"
	"testing"
	"time"
)

func inlinePolicy() Policy {
	header := NewHeader("viewer", "reports", Any, "view")
	return Policy{
		PrincipalID: "viewer",
		Realm:       "acme-com",
		Rules: []*Rule{
			NewRule("viewer reads reports").
				WithSecurityURI(SecurityURI{Header: header}).
				WithEffect(Allow).
				Build(),
		},
	}
}

func TestConfigBuilderYAMLRoundtrip(t *testing.T) {
	data, err := NewConfigBuilder().
		Version(2).
		DefaultRealm("acme-com").
		EnableIndex().
		ScriptTimeout(250*time.Millisecond).
		DecisionCache(1000, 10000, 64).
		AddPolicy(inlinePolicy()).
		ToYAML()
	if err != nil {
		t.Fatalf("ToYAML: %v", err)
	}

	cfg, err := NewConfigLoader().LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if cfg.Version != 2 || cfg.DefaultRealm != "acme-com" || !cfg.IndexEnabled {
		t.Fatalf("roundtrip lost fields: %+v", cfg)
	}
	if cfg.ScriptTimeoutMS != 250 {
		t.Fatalf("ScriptTimeoutMS = %d", cfg.ScriptTimeoutMS)
	}
	if cfg.Engine.RistrettoNumCounter != 1000 {
		t.Fatalf("Engine settings lost: %+v", cfg.Engine)
	}
	if len(cfg.Policies) != 1 || len(cfg.Policies[0].Rules) != 1 {
		t.Fatalf("policies lost: %+v", cfg.Policies)
	}
	if cfg.Policies[0].Rules[0].Name != "viewer reads reports" {
		t.Fatalf("rule lost: %+v", cfg.Policies[0].Rules[0])
	}
}

func TestConfigJSONRoundtrip(t *testing.T) {
	cfg := NewConfigBuilder().
		DefaultRealm("acme-com").
		AddPolicy(inlinePolicy()).
		Build()
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if back.DefaultRealm != "acme-com" || len(back.Policies) != 1 {
		t.Fatalf("roundtrip lost fields: %+v", back)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{ScriptTimeoutMS: -1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative timeout to fail validation")
	}

	cfg = &Config{Policies: []Policy{{
		Rules: []*Rule{{
			Name:   "orphan",
			URI:    SecurityURI{Header: SecurityURIHeader{Area: "reports"}},
			Effect: Allow,
		}},
	}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected rule without identity or principal to fail validation")
	}
}

func TestApplyConfigInlinePolicies(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	cfg := NewConfigBuilder().
		DefaultRealm("acme-com").
		AddPolicy(inlinePolicy()).
		Build()
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	pctx := acmePrincipal("carol@acme.com", "viewer")
	rctx := NewResource("reports", "ledger", "view").Build()
	resp, err := eng.CheckRules(ctx, pctx, rctx)
	if err != nil {
		t.Fatalf("CheckRules: %v", err)
	}
	if resp.FinalEffect != Allow {
		t.Fatalf("expected allow from inline policy, got %s", resp.FinalEffect)
	}
}

func TestApplyConfigSystemOverrides(t *testing.T) {
	ctx := context.Background()
	eng, _ := NewEngine()

	cfg := NewConfigBuilder().
		SystemIdentity(SystemConfig{UserID: "Root@Corp.com"}).
		Build()
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	if rules := eng.RulesFor(NewHeader("root@corp.com", Any, Any, Any)); len(rules) == 0 {
		t.Fatalf("expected system rules rekeyed to the overridden user id")
	}
	if rules := eng.RulesFor(NewHeader(SystemUserID, Any, Any, Any)); len(rules) != 0 {
		t.Fatalf("expected default system user rules gone after override")
	}
}

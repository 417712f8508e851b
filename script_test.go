package secrules

import (
	"context"
	"testing"
)

func TestExprEvaluatorClauses(t *testing.T) {
	ctx := context.Background()
	ev := NewExprEvaluator()

	pctx := NewPrincipal("alice@acme.com").
		WithRoles("user", "auditor").
		WithScope("api").
		WithDataDomain(DataDomain{TenantID: "acme.com", DataSegment: 2}).
		Build()
	rctx := NewResource("reports", "ledger", "view").Build()

	cases := []struct {
		script string
		want   bool
	}{
		{"", true},
		{"true", true},
		{"false", false},
		{"pcontext.userId == 'alice@acme.com'", true},
		{"pcontext.userId == 'bob@acme.com'", false},
		{"pcontext.userId != 'bob@acme.com'", true},
		{"pcontext.scope == 'API'", true},
		{"rcontext.action in [view, update]", true},
		{"rcontext.action in [delete, update]", false},
		{"pcontext.dataDomain.dataSegment == '2'", true},
		{"pcontext.scope == 'api' && rcontext.area == 'reports'", true},
		{"pcontext.scope == 'cli' && rcontext.area == 'reports'", false},
		{"pcontext.scope == 'cli' || rcontext.area == 'reports'", true},
		{"false || pcontext.scope == 'cli' && true", false},
	}
	for _, c := range cases {
		got, err := ev.Evaluate(ctx, c.script, pctx, rctx)
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", c.script, err)
		}
		if got != c.want {
			t.Fatalf("Evaluate(%q) = %v, want %v", c.script, got, c.want)
		}
	}
}

func TestExprEvaluatorRejectsUnknownClause(t *testing.T) {
	ctx := context.Background()
	ev := NewExprEvaluator()
	pctx := NewPrincipal("alice@acme.com").Build()
	rctx := NewResource("reports", "ledger", "view").Build()

	if _, err := ev.Evaluate(ctx, "whatever", pctx, rctx); err == nil {
		t.Fatalf("expected error for unsupported clause")
	}
}

func TestExprEvaluatorHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := NewExprEvaluator()
	pctx := NewPrincipal("alice@acme.com").Build()
	rctx := NewResource("reports", "ledger", "view").Build()

	if _, err := ev.Evaluate(ctx, "true", pctx, rctx); err == nil {
		t.Fatalf("expected cancelled context to surface as an error")
	}
}

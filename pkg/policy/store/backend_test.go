package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"monay-hq/authz/pkg/policy/model"
)

func newBackends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := NewSQLiteBackend(SQLiteBackendConfig{DBPath: filepath.Join(t.TempDir(), "rules.db")})
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(nil),
		"sqlite": sqlite,
	}
}

func TestBackend_CompareAndSwap(t *testing.T) {
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			r := testRule("r1", 10)
			r.Version = 1
			if err := b.PutRule(ctx, r, 0); err != nil {
				t.Fatalf("PutRule failed: %v", err)
			}

			if err := b.PutRule(ctx, r, 0); !errors.Is(err, model.ErrAlreadyExists) {
				t.Errorf("Expected ErrAlreadyExists, got %v", err)
			}

			r2 := r.Clone()
			r2.Version = 2
			r2.Active = false
			if err := b.PutRule(ctx, r2, 1); err != nil {
				t.Fatalf("PutRule update failed: %v", err)
			}

			stale := r.Clone()
			stale.Version = 2
			err := b.PutRule(ctx, stale, 1)
			var conflict *model.VersionConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Expected *VersionConflictError, got %v", err)
			}
			if conflict.Expected != 1 || conflict.Actual != 2 {
				t.Errorf("Expected conflict 1 vs 2, got %d vs %d", conflict.Expected, conflict.Actual)
			}

			missing := testRule("nope", 1)
			missing.Version = 2
			if err := b.PutRule(ctx, missing, 1); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}

			bundle, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(bundle.Rules) != 1 {
				t.Fatalf("Expected 1 rule, got %d", len(bundle.Rules))
			}
			got := bundle.Rules[0]
			if got.Version != 2 || got.Active {
				t.Errorf("Expected version 2 inactive, got version %d active=%v", got.Version, got.Active)
			}
		})
	}
}

func TestBackend_PolicyRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			p := testPolicy("p1", model.PolicyPriorityHigh)
			p.Version = 1
			p.WalletIDs = []string{"w-1"}
			if err := b.PutPolicy(ctx, p, 0); err != nil {
				t.Fatalf("PutPolicy failed: %v", err)
			}

			bundle, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(bundle.Policies) != 1 {
				t.Fatalf("Expected 1 policy, got %d", len(bundle.Policies))
			}
			got := bundle.Policies[0]
			if got.Requirements.RequiredSignatures != 2 {
				t.Errorf("Expected 2 required signatures, got %d", got.Requirements.RequiredSignatures)
			}
			if !got.AppliesToWallet("w-1") || got.AppliesToWallet("w-2") {
				t.Errorf("Expected wallet scope to survive, got %v", got.WalletIDs)
			}
			if err := model.ValidatePolicy(got); err != nil {
				t.Errorf("Expected loaded policy to validate, got %v", err)
			}
		})
	}
}

func TestSQLiteBackend_NumbersSurviveReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.db")

	b, err := NewSQLiteBackend(SQLiteBackendConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	r := testRule("precise", 5)
	r.Version = 1
	r.Conditions[0].Value = "10000.000000000000000001"
	if err := b.PutRule(ctx, r, 0); err != nil {
		t.Fatalf("PutRule failed: %v", err)
	}
	b.Close()

	b, err = NewSQLiteBackend(SQLiteBackendConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewSQLiteBackend reopen failed: %v", err)
	}
	defer b.Close()

	bundle, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(bundle.Rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(bundle.Rules))
	}
	if got := bundle.Rules[0].Conditions[0].Value; got != "10000.000000000000000001" {
		t.Errorf("Expected value to survive unchanged, got %v", got)
	}
	if len(bundle.Rules[0].Actions) != 1 || bundle.Rules[0].Actions[0].Type != model.ActionFlag {
		t.Errorf("Expected flag action, got %+v", bundle.Rules[0].Actions)
	}
}

const bundleYAML = `
rules:
  - id: high-risk-block
    name: Block high risk
    category: RISK_MANAGEMENT
    priority: 100
    active: true
    conditions:
      - field: riskScore
        operator: greaterThan
        value: 80
    actions:
      - type: block
        parameters:
          reason: risk score too high
policies:
  - id: large-transfer
    name: Large transfer
    type: transaction_limit
    priority: 1
    conditions:
      - field: amount
        operator: greaterThan
        value: 50000
    requirements:
      requiredSignatures: 2
      approverRoles: [cfo, treasurer]
    enforced: true
`

func TestFileBackend_Load(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bundle.yaml"), []byte(bundleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	extra := `
rules:
  - id: sanctions
    name: Sanctioned country
    category: GEOGRAPHIC_RESTRICTIONS
    priority: 200
    active: true
    conditions:
      - field: country
        operator: in
        value: [KP, IR]
    actions:
      - type: block
`
	if err := os.MkdirAll(filepath.Join(dir, "geo"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "geo", "sanctions.yml"), []byte(extra), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	bundle, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(bundle.Rules) != 2 {
		t.Errorf("Expected 2 rules, got %d", len(bundle.Rules))
	}
	if len(bundle.Policies) != 1 {
		t.Errorf("Expected 1 policy, got %d", len(bundle.Policies))
	}
	for _, r := range bundle.Rules {
		if err := model.ValidateRule(r); err != nil {
			t.Errorf("Expected rule %s to validate, got %v", r.ID, err)
		}
	}

	if err := b.PutRule(context.Background(), testRule("x", 1), 0); !errors.Is(err, model.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
	if err := b.PutPolicy(context.Background(), testPolicy("x", 1), 0); !errors.Is(err, model.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
}

func TestParseBundle_UnknownField(t *testing.T) {
	_, err := ParseBundle([]byte(`
rules:
  - id: r1
    name: typo
    prority: 10
`))
	if err == nil {
		t.Error("Expected error for unknown field, got nil")
	}
}

func TestNewFileBackend_MissingPath(t *testing.T) {
	if _, err := NewFileBackend(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing path, got nil")
	}
	if _, err := NewFileBackend(""); err == nil {
		t.Error("Expected error for empty path, got nil")
	}
}

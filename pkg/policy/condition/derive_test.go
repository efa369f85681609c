package condition

import (
	"testing"

	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/policy/model"
)

func TestDeriver_Apply(t *testing.T) {
	d, err := NewDeriver([]Derivation{
		{Name: "amountUSD", Expression: "amount * fxRate"},
		{Name: "largeUSD", Expression: "amountUSD > 10000"},
	}, nil)
	if err != nil {
		t.Fatalf("NewDeriver failed: %v", err)
	}

	fields := map[string]interface{}{
		"amount": decimal.NewFromInt(8000),
		"fxRate": 1.5,
	}
	out := d.Apply(fields)

	usd, ok := model.ToDecimal(out["amountUSD"])
	if !ok || !usd.Equal(decimal.NewFromInt(12000)) {
		t.Errorf("Expected amountUSD 12000, got %v", out["amountUSD"])
	}
	if out["largeUSD"] != true {
		t.Errorf("Expected largeUSD true, got %v", out["largeUSD"])
	}
	if _, ok := fields["amountUSD"]; ok {
		t.Error("Expected input map to be left unchanged")
	}

	matched, err := Evaluate([]model.Condition{
		{Field: "amountUSD", Operator: model.OpGreaterThan, Value: 10000},
	}, out)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !matched {
		t.Error("Expected derived field to be usable in conditions")
	}
}

func TestDeriver_FailureLeavesFieldAbsent(t *testing.T) {
	d, err := NewDeriver([]Derivation{
		{Name: "amountUSD", Expression: "amount * fxRate"},
	}, nil)
	if err != nil {
		t.Fatalf("NewDeriver failed: %v", err)
	}

	out := d.Apply(map[string]interface{}{"amount": decimal.NewFromInt(10)})
	if _, ok := out["amountUSD"]; ok {
		t.Errorf("Expected amountUSD to be absent, got %v", out["amountUSD"])
	}

	_, err = EvaluateRequired(nil, out, []string{"amountUSD"})
	if err == nil {
		t.Error("Expected missing required field error for failed derivation")
	}
}

func TestNewDeriver_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs []Derivation
	}{
		{"syntax error", []Derivation{{Name: "x", Expression: "amount *"}}},
		{"missing name", []Derivation{{Expression: "1 + 1"}}},
		{"duplicate name", []Derivation{{Name: "x", Expression: "1"}, {Name: "x", Expression: "2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDeriver(tt.defs, nil); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestDeriver_Nil(t *testing.T) {
	var d *Deriver
	out := d.Apply(map[string]interface{}{"a": 1})
	if out["a"] != 1 {
		t.Errorf("Expected nil deriver to copy fields, got %v", out)
	}
}

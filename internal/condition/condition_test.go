package condition

import "testing"

func TestEvaluate_StringEquality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond string
		args map[string]any
		want bool
	}{
		{"match", `environment == "production"`, map[string]any{"environment": "production"}, true},
		{"no match", `environment == "production"`, map[string]any{"environment": "staging"}, false},
		{"missing field", `environment == "production"`, map[string]any{}, false},
		{"numeric field canonical form", `count == "3"`, map[string]any{"count": float64(3)}, true},
		{"bool field canonical form", `dry_run == "false"`, map[string]any{"dry_run": false}, true},
		{"inequality match", `environment != "production"`, map[string]any{"environment": "staging"}, true},
		{"inequality no match", `environment != "production"`, map[string]any{"environment": "production"}, false},
		{"escaped quote in literal", `name == "a\"b"`, map[string]any{"name": `a"b`}, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Evaluate(tc.cond, tc.args); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestEvaluate_NumericComparison(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond string
		args map[string]any
		want bool
	}{
		{"greater true", "amount > 1000", map[string]any{"amount": float64(5000)}, true},
		{"greater false", "amount > 1000", map[string]any{"amount": float64(500)}, false},
		{"greater boundary", "amount > 1000", map[string]any{"amount": float64(1000)}, false},
		{"gte boundary", "amount >= 1000", map[string]any{"amount": float64(1000)}, true},
		{"less true", "amount < 10", map[string]any{"amount": float64(5)}, true},
		{"lte boundary", "amount <= 10", map[string]any{"amount": float64(10)}, true},
		{"int field", "amount > 1000", map[string]any{"amount": 2000}, true},
		{"numeric string field", "amount > 1000", map[string]any{"amount": "1500"}, true},
		{"float threshold", "ratio > 0.5", map[string]any{"ratio": float64(0.75)}, true},
		{"negative threshold", "delta < -1", map[string]any{"delta": float64(-2)}, true},
		// Numeric operators fail closed on non-numeric fields.
		{"non-numeric field", "amount > 1000", map[string]any{"amount": "lots"}, false},
		{"missing field", "amount > 1000", map[string]any{}, false},
		{"nil field", "amount > 1000", map[string]any{"amount": nil}, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Evaluate(tc.cond, tc.args); got != tc.want {
				t.Errorf("Evaluate(%q, %v) = %v, want %v", tc.cond, tc.args, got, tc.want)
			}
		})
	}
}

func TestEvaluate_FailsOpenOnUnknownGrammar(t *testing.T) {
	t.Parallel()

	args := map[string]any{"amount": float64(50)}

	conds := []string{
		"amount ~> 10",
		"amount in [1, 2, 3]",
		"amount > 10 && amount < 20",
		"just some words",
		"",
	}
	for _, cond := range conds {
		if !Evaluate(cond, args) {
			t.Errorf("Evaluate(%q) = false, want true (unparseable conditions must gate)", cond)
		}
	}
}

func TestEvaluate_NilArgs(t *testing.T) {
	t.Parallel()

	if !Evaluate("amount > 1000", nil) {
		t.Error("Evaluate with nil args should return true")
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	supported := []string{
		`env == "prod"`,
		`env != "prod"`,
		"amount > 10",
		"amount >= 10",
		"amount < 10",
		"amount <= 10.5",
	}
	for _, cond := range supported {
		if !Supported(cond) {
			t.Errorf("Supported(%q) = false, want true", cond)
		}
	}

	unsupported := []string{
		"amount ~> 10",
		`env = "prod"`,
		"amount > ten",
		"",
	}
	for _, cond := range unsupported {
		if Supported(cond) {
			t.Errorf("Supported(%q) = true, want false", cond)
		}
	}
}

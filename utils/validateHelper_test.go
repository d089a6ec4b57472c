package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateStruct_HonorsBindingTags(t *testing.T) {
	type payload struct {
		Name    string `binding:"required"`
		Formula string `binding:"required"`
	}
	if err := ValidateStruct(payload{Name: "noi check", Formula: "a - b"}); err != nil {
		t.Fatalf("expected complete payload to validate, got %v", err)
	}
	if err := ValidateStruct(payload{Name: "noi check"}); err == nil {
		t.Fatal("expected a missing formula to fail validation")
	}
}

func TestValidateTolerances(t *testing.T) {
	pos := decimal.RequireFromString("0.10")
	neg := decimal.RequireFromString("-0.10")

	cases := []struct {
		name        string
		absolute    *decimal.Decimal
		percent     *decimal.Decimal
		requireBoth bool
		wantErr     bool
	}{
		{"none configured", nil, nil, false, false},
		{"absolute only", &pos, nil, false, false},
		{"percent only", nil, &pos, false, false},
		{"both configured", &pos, &pos, true, false},
		{"negative absolute", &neg, nil, false, true},
		{"negative percent", nil, &neg, false, true},
		{"require both with one missing", &pos, nil, true, true},
	}
	for _, tc := range cases {
		err := ValidateTolerances(tc.absolute, tc.percent, tc.requireBoth)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: wantErr=%v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

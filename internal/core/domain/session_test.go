//go:build unit

package domain

import "testing"

func TestValidateAuthnContextComparison(t *testing.T) {
	for _, v := range []string{"", "exact", "minimum", "maximum", "better"} {
		if err := ValidateAuthnContextComparison(v); err != nil {
			t.Errorf("comparison %q should be accepted: %v", v, err)
		}
	}
	for _, v := range []string{"strongest", "EXACT", "min"} {
		if err := ValidateAuthnContextComparison(v); err == nil {
			t.Errorf("comparison %q should be rejected", v)
		}
	}
}

package config

import (
	"testing"
)

func TestValidatorRequireNonEmpty(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{
			name:      "non-empty value",
			value:     "valid",
			wantError: false,
		},
		{
			name:      "empty value",
			value:     "",
			wantError: true,
		},
		{
			name:      "whitespace only",
			value:     "   ",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.RequireNonEmpty("test_field", tt.value)
			if v.HasErrors() != tt.wantError {
				t.Errorf("Expected wantError=%v, got %v", tt.wantError, v.HasErrors())
			}
		})
	}
}

func TestValidatorValidateUnitInterval(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantError bool
	}{
		{name: "zero", value: 0, wantError: false},
		{name: "one", value: 1, wantError: false},
		{name: "middle", value: 0.5, wantError: false},
		{name: "negative", value: -0.1, wantError: true},
		{name: "above one", value: 1.1, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.ValidateUnitInterval("test_field", tt.value)
			if v.HasErrors() != tt.wantError {
				t.Errorf("Expected wantError=%v, got %v", tt.wantError, v.HasErrors())
			}
		})
	}
}

func TestValidatorValidateNonNegativeFloat(t *testing.T) {
	v := NewValidator()
	v.ValidateNonNegativeFloat("temperature", -0.5)
	if !v.HasErrors() {
		t.Error("Expected error for negative value")
	}
	if v.Err() == nil {
		t.Error("Expected aggregated error")
	}
}

func TestValidatorChaining(t *testing.T) {
	v := NewValidator().
		RequireNonEmpty("id", "").
		RequirePositive("count", 0).
		ValidateRange("limit", 11, 1, 10)

	if len(v.Errors()) != 3 {
		t.Errorf("Expected 3 errors, got %d", len(v.Errors()))
	}
}

func TestValidatorNoErrors(t *testing.T) {
	v := NewValidator().
		RequireNonEmpty("id", "abc").
		RequirePositive("count", 5)

	if v.Err() != nil {
		t.Errorf("Expected no error, got %v", v.Err())
	}
}

package validation

import "testing"

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		valid bool
	}{
		{
			name:  "local format",
			phone: "0244123456",
			valid: true,
		},
		{
			name:  "international format",
			phone: "+233241234567",
			valid: true,
		},
		{
			name:  "too short",
			phone: "024412345",
			valid: false,
		},
		{
			name:  "too long",
			phone: "02441234567",
			valid: false,
		},
		{
			name:  "bad network prefix",
			phone: "0144123456",
			valid: false,
		},
		{
			name:  "contains letters",
			phone: "02441a3456",
			valid: false,
		},
		{
			name:  "empty string",
			phone: "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidPhone(tt.phone)
			if got != tt.valid {
				t.Fatalf("IsValidPhone(%q) = %v, want %v", tt.phone, got, tt.valid)
			}
		})
	}
}

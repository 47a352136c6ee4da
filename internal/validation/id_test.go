package validation

import "testing"

func TestIsValidItemID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{
			name:  "valid uuid",
			id:    "3f1c0e3e-6f0a-4c0f-9a5e-2b8d8e9b1a77",
			valid: true,
		},
		{
			name:  "uppercase uuid",
			id:    "3F1C0E3E-6F0A-4C0F-9A5E-2B8D8E9B1A77",
			valid: true,
		},
		{
			name:  "not a uuid",
			id:    "product-123",
			valid: false,
		},
		{
			name:  "empty string",
			id:    "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidItemID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidItemID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestIsValidAction(t *testing.T) {
	if !IsValidAction("add") || !IsValidAction("subtract") {
		t.Fatalf("add and subtract must be valid actions")
	}
	if IsValidAction("remove") || IsValidAction("") {
		t.Fatalf("unknown actions must be rejected")
	}
}

func TestIsValidChannel(t *testing.T) {
	if !IsValidChannel("web") || !IsValidChannel("pos") {
		t.Fatalf("web and pos must be valid channels")
	}
	if IsValidChannel("kiosk") || IsValidChannel("") {
		t.Fatalf("unknown channels must be rejected")
	}
}

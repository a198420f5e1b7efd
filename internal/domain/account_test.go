package domain

import "testing"

func TestValidIBAN(t *testing.T) {
	tests := []struct {
		iban string
		want bool
	}{
		{"IT60X0542811101000000123456", true},
		{"DE89370400440532013000", true},
		{"NL91ABNA0417164300", true},
		{"FR1420041010050500013M02606", true},
		{"", false},
		{"IT60", false},                            // too short
		{"1T60X0542811101000000123456", false},     // digit in country code
		{"IT60X054281110100000012345", false},      // wrong length for IT
		{"DE8937040044053201300000000", false},     // wrong length for DE
		{"it60x0542811101000000123456", false},     // lowercase
		{"ZZ12ABCDEF123456789", true},              // unknown country, generic shape
		{"IT60X05428111010000001234 6", false},     // embedded space
		{"XX12!@#$%^&*()1234567890123456", false},  // symbols
	}

	for _, tt := range tests {
		if got := ValidIBAN(tt.iban); got != tt.want {
			t.Errorf("ValidIBAN(%q) = %v, want %v", tt.iban, got, tt.want)
		}
	}
}

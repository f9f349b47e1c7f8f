package phone

import "testing"

func TestIsE164(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"+15551234567", true},
		{" +442071838750 ", true},
		{"5551234567", false},
		{"+05551234567", false},
		{"+1", false},
		{"+1234567890123456", false},
		{"+1 555 123 4567", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsE164(tc.input); got != tc.want {
			t.Errorf("IsE164(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("+15551234567"); got != "**********67" {
		t.Fatalf("unexpected redaction %q", got)
	}
	if got := Redact("1"); got != "***" {
		t.Fatalf("unexpected short redaction %q", got)
	}
}

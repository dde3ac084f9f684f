package validation

import (
	"strings"
	"testing"
)

func TestIsValidAccountID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"buyer1", true},
		{"seller_42", true},
		{"platform", true},
		{"A-1", true},

		// Invalid cases
		{"", false},
		{"-leading", false},  // Must start alphanumeric
		{"_leading", false},  // Must start alphanumeric
		{"has space", false}, // No whitespace
		{"has.dot", false},   // No dots
		{strings.Repeat("a", 65), false}, // Too long
	}

	for _, tc := range tests {
		result := IsValidAccountID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidAccountID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidResourceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"od_1a2b3c4d", true},
		{"ct_9f8e7d6c", true},
		{"rc_00aa11bb", true},
		{"TP-9C4E21AB", true},
		{"wh_a1b2c3d4e5f6", true},

		// Invalid cases
		{"", false},
		{"od_", false},          // Missing suffix
		{"1234_abcd", false},    // Prefix must be letters
		{"od 1a2b", false},      // No whitespace
		{"od_1a2b;drop", false}, // No punctuation in suffix
	}

	for _, tc := range tests {
		result := IsValidResourceID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidResourceID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "John"),
		ValidAccount("seller_id", "seller1"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		ValidAccount("seller_id", "has space"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"1500000", true},
		{"1500000.5", true},

		// Invalid
		{"abc", false},
		{"-1.00", false},
		{"1.2.3", false},
		{"0", false},
		{"0.00", false},
		{"0.001", false}, // Truncates to zero
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidAmount(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

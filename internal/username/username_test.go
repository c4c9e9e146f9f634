package username

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		valid  bool
		reason Reason
	}{
		{"valid simple", "abc123", true, ReasonNone},
		{"valid mixed case", "GolfPro99", true, ReasonNone},
		{"valid with underscore", "tee_time", true, ReasonNone},
		{"valid with hyphen", "back-nine", true, ReasonNone},
		{"valid with surrounding spaces", "  caddie  ", true, ReasonNone},
		{"empty", "", false, ReasonEmpty},
		{"whitespace only", "   ", false, ReasonEmpty},
		{"too short", "ab", false, ReasonTooShort},
		{"too long", "this_is_a_very_long_handle_1", false, ReasonTooLong},
		{"exactly min length", "abc", true, ReasonNone},
		{"exactly max length", "a1234567890123456789", true, ReasonNone},
		{"leading underscore", "_abc", false, ReasonBadFormat},
		{"leading hyphen", "-abc", false, ReasonBadFormat},
		{"space inside", "two words", false, ReasonBadFormat},
		{"illegal character", "name!", false, ReasonBadFormat},
		{"unicode", "golfeuré", false, ReasonBadFormat},
		{"reserved", "admin", false, ReasonReserved},
		{"reserved mixed case", "AdMiN", false, ReasonReserved},
		{"reserved app handle", "greenbook", false, ReasonReserved},
		{"profane exact", "shit", false, ReasonProfane},
		{"profane substring", "shithead99", false, ReasonProfane},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.input)
			assert.Equal(t, tt.valid, v.Valid)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

// Check order matters: only the first failing reason is reported.
func TestValidateOrder(t *testing.T) {
	// Too short beats bad format.
	assert.Equal(t, ReasonTooShort, Validate("_a").Reason)
	// Bad format beats reserved ("admin!" is neither reserved nor clean).
	assert.Equal(t, ReasonBadFormat, Validate("admin!").Reason)
	// Reserved beats profanity for a name in both sets; reserved is checked
	// first so a reserved handle never reports Profane.
	assert.Equal(t, ReasonReserved, Validate("admin").Reason)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "alice", Normalize("  Alice "))
	assert.Equal(t, "tee_time", Normalize("Tee_Time"))

	// Idempotence: normalizing a canonical name is a no-op.
	for _, s := range []string{"alice", "bob-1", "x_y_z"} {
		assert.Equal(t, s, Normalize(s))
		assert.Equal(t, Normalize(s), Normalize(Normalize(s)))
	}
}

func TestDisplayPreservesCase(t *testing.T) {
	assert.Equal(t, "GolfPro99", Display("  GolfPro99 "))
}

func TestReasonMessagesDistinct(t *testing.T) {
	seen := map[string]Reason{}
	for _, r := range []Reason{ReasonEmpty, ReasonTooShort, ReasonTooLong, ReasonBadFormat, ReasonReserved, ReasonProfane} {
		msg := r.Message()
		assert.NotEmpty(t, msg)
		if prev, dup := seen[msg]; dup {
			t.Fatalf("reasons %d and %d share message %q", prev, r, msg)
		}
		seen[msg] = r
	}
}

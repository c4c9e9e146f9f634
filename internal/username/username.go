package username

import (
	"regexp"
	"strings"
)

const (
	// MinLength and MaxLength bound the trimmed username.
	MinLength = 3
	MaxLength = 20
)

// First character must be a letter or digit; the rest may also include
// underscore and hyphen.
var formatRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// reservedNames are administrative or otherwise confusing handles that no
// user may register. Checked case-insensitively as exact matches.
var reservedNames = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"greenbook":     {},
	"support":       {},
	"help":          {},
	"mod":           {},
	"moderator":     {},
	"staff":         {},
	"official":      {},
	"root":          {},
	"system":        {},
	"api":           {},
	"www":           {},
	"info":          {},
	"contact":       {},
	"about":         {},
	"settings":      {},
	"profile":       {},
	"username":      {},
	"null":          {},
	"undefined":     {},
	"anonymous":     {},
	"everyone":      {},
}

// Reason identifies why a username failed validation. UI state and workflow
// gating branch on the reason, not just the message text.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonEmpty
	ReasonTooShort
	ReasonTooLong
	ReasonBadFormat
	ReasonReserved
	ReasonProfane
)

var reasonMessages = map[Reason]string{
	ReasonEmpty:     "Username is required",
	ReasonTooShort:  "Username must be at least 3 characters",
	ReasonTooLong:   "Username must be at most 20 characters",
	ReasonBadFormat: "Username must start with a letter or number and may only contain letters, numbers, underscores, and hyphens",
	ReasonReserved:  "This username is reserved",
	ReasonProfane:   "This username is not allowed",
}

// Message returns the human-readable text for the reason.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// Verdict is the outcome of validating a raw username.
type Verdict struct {
	Valid  bool
	Reason Reason
}

func invalid(r Reason) Verdict {
	return Verdict{Reason: r}
}

// Normalize returns the canonical form used as the uniqueness key:
// lowercase and trimmed. Normalize is idempotent.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Display returns the form shown to other users: trimmed, original casing.
func Display(raw string) string {
	return strings.TrimSpace(raw)
}

// Validate checks a raw username. Checks run in a fixed order and the first
// failure wins: empty, length, format, reserved, profanity.
func Validate(raw string) Verdict {
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		return invalid(ReasonEmpty)
	}
	if len(trimmed) < MinLength {
		return invalid(ReasonTooShort)
	}
	if len(trimmed) > MaxLength {
		return invalid(ReasonTooLong)
	}
	if !formatRegex.MatchString(trimmed) {
		return invalid(ReasonBadFormat)
	}
	if IsReserved(trimmed) {
		return invalid(ReasonReserved)
	}
	if ContainsProfanity(trimmed) {
		return invalid(ReasonProfane)
	}

	return Verdict{Valid: true}
}

// IsReserved reports whether the username exactly matches a reserved handle,
// ignoring case and surrounding whitespace.
func IsReserved(raw string) bool {
	_, ok := reservedNames[Normalize(raw)]
	return ok
}

package domain

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	runnerIDPattern = regexp.MustCompile(`^GC\d{4,}$`)
	phonePattern    = regexp.MustCompile(`^\+?\d{7,15}$`)
)

// NormalizeHumanName trims leading and trailing whitespace. Internal spacing is kept as sent.
func NormalizeHumanName(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeRunnerType maps the literal "independent" to RunnerTypeIndependent; every other
// value (including case variants) falls back to RunnerTypeGoCrave.
func NormalizeRunnerType(s string) RunnerType {
	if s == string(RunnerTypeIndependent) {
		return RunnerTypeIndependent
	}
	return RunnerTypeGoCrave
}

// NormalizeRunnerID trims and upper-cases a runner identifier.
func NormalizeRunnerID(s string) RunnerID {
	return RunnerID(strings.ToUpper(strings.TrimSpace(s)))
}

// ValidRunnerID reports whether id is "GC" followed by four or more ASCII digits.
// The id is expected to be normalized already.
func ValidRunnerID(id RunnerID) bool {
	return runnerIDPattern.MatchString(string(id))
}

// NormalizePhone removes every whitespace character. The caller is expected to send E.164.
func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ValidPhone reports whether phone is an E.164-shaped number: an optional leading "+"
// and 7 to 15 ASCII digits. The phone is expected to be normalized already.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// NormalizeEmail trims and lower-cases a login email.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package security

import (
	"regexp"
	"strings"
)

const (
	MinPasswordLength = 8
	passwordSpecials  = `!@#$%^&*(),.?":{}|<>`
)

var commonSequencePattern = regexp.MustCompile(`(?i)123|abc|qwe`)

// PasswordReport is the outcome of a strength check. Score is advisory;
// Valid depends only on Errors.
type PasswordReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
	Score  int      `json:"score"`
}

func ValidatePasswordStrength(password string) PasswordReport {
	var errs []string
	length := len([]rune(password))

	if length < MinPasswordLength {
		errs = append(errs, "Password must be at least 8 characters long")
	}
	if !strings.ContainsFunc(password, isUpper) {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !strings.ContainsFunc(password, isLower) {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !strings.ContainsFunc(password, isDigit) {
		errs = append(errs, "Password must contain at least one number")
	}
	if !strings.ContainsAny(password, passwordSpecials) {
		errs = append(errs, "Password must contain at least one special character")
	}

	return PasswordReport{
		Valid:  len(errs) == 0,
		Errors: errs,
		Score:  passwordScore(password, length),
	}
}

func passwordScore(password string, length int) int {
	score := min(length*2, 20)

	if strings.ContainsFunc(password, isLower) {
		score += 5
	}
	if strings.ContainsFunc(password, isUpper) {
		score += 5
	}
	if strings.ContainsFunc(password, isDigit) {
		score += 5
	}
	if strings.ContainsFunc(password, isSymbol) {
		score += 10
	}

	if hasRepeatedRun(password, 3) {
		score -= 10
	}
	if commonSequencePattern.MatchString(password) {
		score -= 10
	}

	return max(0, min(100, score))
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// isSymbol matches anything outside [A-Za-z0-9].
func isSymbol(r rune) bool {
	return !isUpper(r) && !isLower(r) && !isDigit(r)
}

func hasRepeatedRun(s string, n int) bool {
	run := 0
	var prev rune
	for i, r := range []rune(s) {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

package bridge

import "unicode"

const minPasswordLength = 8

// ValidatePassword enforces the credential rules applied when a user sets
// their Supabase password. The returned ValidationError names the first rule
// that failed so the caller can resubmit.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return &ValidationError{Rule: "password must be at least 8 characters"}
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		return &ValidationError{Rule: "password must contain an uppercase letter"}
	}
	if !hasLower {
		return &ValidationError{Rule: "password must contain a lowercase letter"}
	}
	if !hasDigit {
		return &ValidationError{Rule: "password must contain a digit"}
	}
	return nil
}

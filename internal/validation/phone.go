package validation

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// PhoneOptions configures phone validation.
type PhoneOptions struct {
	// DefaultRegion is the ISO 3166-1 region used to parse national-format
	// numbers, e.g. "US".
	DefaultRegion string

	// RequireE164 rejects input that does not start with "+".
	RequireE164 bool
}

// PhoneResult carries the E.164 canonical form and any validation errors.
type PhoneResult struct {
	Sanitized string
	Errors    []FieldError
}

// Valid returns true when no validation errors were recorded.
func (r PhoneResult) Valid() bool { return len(r.Errors) == 0 }

// ValidatePhone strips formatting, parses the number region-aware and
// canonicalizes to E.164. Impossible and regionally invalid numbers are
// rejected.
func ValidatePhone(raw string, opts PhoneOptions) PhoneResult {
	stripped := stripPhone(strings.TrimSpace(raw))
	res := PhoneResult{Sanitized: stripped}

	if stripped == "" {
		res.Errors = append(res.Errors, FieldError{Code: CodePhoneFormat, Message: "phone number is empty"})
		return res
	}

	if opts.RequireE164 && !strings.HasPrefix(stripped, "+") {
		res.Errors = append(res.Errors, FieldError{Code: CodePhoneE164, Message: "phone number must be in E.164 format starting with +"})
		return res
	}

	num, err := phonenumbers.Parse(stripped, opts.DefaultRegion)
	if err != nil {
		res.Errors = append(res.Errors, FieldError{Code: CodePhoneFormat, Message: "phone number could not be parsed"})
		return res
	}

	if !phonenumbers.IsPossibleNumber(num) {
		res.Errors = append(res.Errors, FieldError{Code: CodePhoneImpossible, Message: "phone number is not possible"})
		return res
	}
	if !phonenumbers.IsValidNumber(num) {
		res.Errors = append(res.Errors, FieldError{Code: CodePhoneInvalid, Message: "phone number is not valid for its region"})
		return res
	}

	res.Sanitized = phonenumbers.Format(num, phonenumbers.E164)
	return res
}

// stripPhone removes every non-digit except a single leading +.
func stripPhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxEmailLength  = 320
	maxLocalLength  = 64
	maxDomainLength = 255
)

// emailRegex matches the structural shape of an address after it has been
// split on the single "@": dot-atom local part and a dotted domain with a
// non-numeric final label.
var emailRegex = regexp.MustCompile(`^[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+(?:\.[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+)*@[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)*$`)

// EmailOptions configures email validation.
type EmailOptions struct {
	// AllowDisposable skips the disposable-domain blocklist check.
	AllowDisposable bool

	// DisposableDomains is the blocklist; an address is rejected when its
	// domain matches an entry exactly or is a subdomain of one.
	DisposableDomains map[string]struct{}
}

// EmailResult carries the sanitized address and any validation errors.
type EmailResult struct {
	Sanitized string
	Errors    []FieldError
}

// Valid returns true when no validation errors were recorded.
func (r EmailResult) Valid() bool { return len(r.Errors) == 0 }

// ValidateEmail trims, lowercases and structurally validates an email
// address. The sanitized form is returned even when validation fails.
func ValidateEmail(raw string, opts EmailOptions) EmailResult {
	sanitized := strings.ToLower(strings.TrimSpace(raw))
	res := EmailResult{Sanitized: sanitized}

	if len(sanitized) < 1 || len(sanitized) > maxEmailLength {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodeEmailLength,
			Message: fmt.Sprintf("email must be between 1 and %d characters", maxEmailLength),
		})
		return res
	}

	if strings.Count(sanitized, "@") != 1 {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodeEmailStructure,
			Message: "email must contain exactly one @",
		})
		return res
	}

	at := strings.Index(sanitized, "@")
	local, domain := sanitized[:at], sanitized[at+1:]

	if len(local) == 0 || len(local) > maxLocalLength {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodeEmailLocalLength,
			Message: fmt.Sprintf("local part must be between 1 and %d characters", maxLocalLength),
		})
	}
	if len(domain) == 0 || len(domain) > maxDomainLength {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodeEmailDomain,
			Message: fmt.Sprintf("domain must be between 1 and %d characters", maxDomainLength),
		})
	}
	if len(res.Errors) > 0 {
		return res
	}

	if !emailRegex.MatchString(sanitized) {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodeEmailFormat,
			Message: "email format is invalid",
		})
		return res
	}

	if !opts.AllowDisposable && isDisposable(domain, opts.DisposableDomains) {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodeEmailDisposable,
			Message: "disposable email domains are not accepted",
		})
	}

	return res
}

// isDisposable matches the domain exactly or as a subdomain of a blocked
// entry.
func isDisposable(domain string, blocked map[string]struct{}) bool {
	if len(blocked) == 0 {
		return false
	}
	if _, ok := blocked[domain]; ok {
		return true
	}
	for i := 0; i < len(domain); i++ {
		if domain[i] == '.' {
			if _, ok := blocked[domain[i+1:]]; ok {
				return true
			}
		}
	}
	return false
}

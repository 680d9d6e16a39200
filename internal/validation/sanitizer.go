package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Redacted replaces the value of any sensitive key.
const Redacted = "[REDACTED]"

// sensitiveSubstrings are matched as plain substrings of the lowercased key.
var sensitiveSubstrings = []string{
	"password", "token", "secret", "credential", "authorization", "otp", "code",
}

// sensitiveKeyWord matches "key" as a standalone word. Word boundaries also
// fall on lower-to-upper camel transitions so apiKey is caught.
var sensitiveKeyWord = regexp.MustCompile(`(?i)\bkey\b`)

// keyFalsePositives are identifiers that contain "key" as a word but are
// never credentials.
var keyFalsePositives = map[string]struct{}{
	"keyboard":    {},
	"monkey":      {},
	"turkey":      {},
	"author":      {},
	"primarykey":  {},
	"primary_key": {},
	"foreignkey":  {},
	"foreign_key": {},
}

// IsSensitiveKey reports whether a metadata or attribute key should have
// its value redacted before persistence.
func IsSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	if _, ok := keyFalsePositives[lowered]; ok {
		return false
	}
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lowered, s) {
			return true
		}
	}
	// Insert a boundary at camel transitions so the word regex sees
	// "apiKey" as "api key".
	return sensitiveKeyWord.MatchString(splitCamel(key))
}

// splitCamel inserts a space before every lower-to-upper transition and
// converts separator characters to spaces, so both apiKey and api_key
// expose "key" as a standalone word.
func splitCamel(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		if r == '_' || r == '.' || r == '-' {
			b.WriteByte(' ')
			prevLower = false
			continue
		}
		if prevLower && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		prevLower = unicode.IsLower(r)
		b.WriteRune(r)
	}
	return b.String()
}

// htmlEntities are the escape targets in replacement order. '&' is handled
// separately so already-escaped entities are not double-escaped.
var htmlEntities = map[byte]string{
	'<':  "&lt;",
	'>':  "&gt;",
	'"':  "&quot;",
	'\'': "&#x27;",
	'/':  "&#x2F;",
}

var knownEntitySuffixes = []string{"amp;", "lt;", "gt;", "quot;", "#x27;", "#x2F;"}

// EscapeHTML escapes & < > " ' / to named or hex entities. The function is
// idempotent: an ampersand already starting a known entity is left alone.
func EscapeHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '&' {
			if startsKnownEntity(s[i+1:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
			continue
		}
		if rep, ok := htmlEntities[c]; ok {
			b.WriteString(rep)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func startsKnownEntity(rest string) bool {
	for _, suffix := range knownEntitySuffixes {
		if strings.HasPrefix(rest, suffix) {
			return true
		}
	}
	return false
}

// StripControls removes every ISO control character (null, CR, LF, tab,
// bell, backspace, FF, VT and the rest of the control planes).
func StripControls(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeString applies control stripping then entity escaping. The
// composition is idempotent.
func SanitizeString(s string) string {
	return EscapeHTML(StripControls(s))
}

// attributeKeyRegex is the shape every custom attribute key must match
// after sanitization.
var attributeKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// reservedAttributeKeys cannot be used as custom attribute keys.
var reservedAttributeKeys = map[string]struct{}{
	"id": {}, "user_id": {}, "realm_id": {}, "email": {}, "phone": {},
	"password": {}, "roles": {}, "status": {},
}

// AttributeLimits caps custom attribute storage.
type AttributeLimits struct {
	MaxKeyLength   int
	MaxValueLength int
	MaxAttributes  int
	// AllowedKeys, when non-empty, is an allow-list of acceptable keys.
	AllowedKeys map[string]struct{}
}

// DefaultAttributeLimits returns the caps applied unless configured.
func DefaultAttributeLimits() AttributeLimits {
	return AttributeLimits{MaxKeyLength: 128, MaxValueLength: 4096, MaxAttributes: 50}
}

// SanitizeAttributeKey removes every character outside [A-Za-z0-9_.-] and
// caps the length.
func SanitizeAttributeKey(key string, limits AttributeLimits) string {
	var b strings.Builder
	for _, r := range key {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
			r == '_' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	max := limits.MaxKeyLength
	if max <= 0 {
		max = 128
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// ValidateAttributes sanitizes and validates a custom attribute map,
// returning the cleaned map or the accumulated errors.
func ValidateAttributes(attrs map[string]string, limits AttributeLimits) (map[string]string, []FieldError) {
	var errs []FieldError

	maxAttrs := limits.MaxAttributes
	if maxAttrs <= 0 {
		maxAttrs = 50
	}
	if len(attrs) > maxAttrs {
		errs = append(errs, FieldError{
			Code:    CodeAttributeCount,
			Message: fmt.Sprintf("at most %d attributes are allowed", maxAttrs),
		})
		return nil, errs
	}

	maxValue := limits.MaxValueLength
	if maxValue <= 0 {
		maxValue = 4096
	}

	out := make(map[string]string, len(attrs))
	for key, value := range attrs {
		clean := SanitizeAttributeKey(key, limits)
		if clean == "" || !attributeKeyRegex.MatchString(clean) {
			errs = append(errs, FieldError{
				Code:    CodeAttributeKey,
				Message: fmt.Sprintf("attribute key %q is invalid", key),
			})
			continue
		}
		if _, reserved := reservedAttributeKeys[strings.ToLower(clean)]; reserved {
			errs = append(errs, FieldError{
				Code:    CodeAttributeReserved,
				Message: fmt.Sprintf("attribute key %q is reserved", clean),
			})
			continue
		}
		if len(limits.AllowedKeys) > 0 {
			if _, ok := limits.AllowedKeys[clean]; !ok {
				errs = append(errs, FieldError{
					Code:    CodeAttributeAllowed,
					Message: fmt.Sprintf("attribute key %q is not in the allowed set", clean),
				})
				continue
			}
		}
		if len(value) > maxValue {
			errs = append(errs, FieldError{
				Code:    CodeAttributeValue,
				Message: fmt.Sprintf("attribute %q value exceeds %d characters", clean, maxValue),
			})
			continue
		}
		out[clean] = SanitizeString(value)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// SanitizeMetadata deep-sanitizes an event metadata map: sensitive keys are
// redacted, string values are control-stripped and entity-escaped, nested
// maps and lists are walked, and non-string scalars pass through unchanged.
func SanitizeMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if IsSensitiveKey(key) {
			out[key] = Redacted
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return SanitizeString(v)
	case map[string]any:
		return SanitizeMetadata(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SanitizeString(item)
		}
		return out
	default:
		return v
	}
}

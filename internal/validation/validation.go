// Package validation provides the input validators and the sanitizer that
// gate every credential-carrying operation: email and phone normalization,
// password strength scoring, and attribute/metadata sanitization.
package validation

import "fmt"

// FieldError is a single validation failure with a stable machine code.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stable error codes surfaced to callers.
const (
	CodeEmailLength      = "email.length"
	CodeEmailStructure   = "email.structure"
	CodeEmailFormat      = "email.format"
	CodeEmailLocalLength = "email.local_part.length"
	CodeEmailDomain      = "email.domain.length"
	CodeEmailDisposable  = "email.disposable"

	CodePhoneFormat     = "phone.format"
	CodePhoneImpossible = "phone.impossible"
	CodePhoneInvalid    = "phone.invalid"
	CodePhoneE164       = "phone.e164_required"

	CodePasswordLength = "password.length"
	CodePasswordScore  = "password.score"
	CodePasswordCommon = "password.common"

	CodeAttributeKey       = "attribute.key"
	CodeAttributeReserved  = "attribute.key.reserved"
	CodeAttributeKeyLength = "attribute.key.length"
	CodeAttributeValue     = "attribute.value.length"
	CodeAttributeCount     = "attribute.count"
	CodeAttributeAllowed   = "attribute.key.not_allowed"
)

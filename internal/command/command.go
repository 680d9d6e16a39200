package command

import (
	"github.com/kodex-auth/go-core/internal/validation"
	"github.com/kodex-auth/go-core/pkg/types"
)

// UserFieldUpdates selects the user row fields to change.
type UserFieldUpdates struct {
	Email      Field[string]
	Phone      Field[string]
	Status     Field[types.UserStatus]
	IsVerified Field[bool]
}

// IsEmpty reports whether no field is touched.
func (u UserFieldUpdates) IsEmpty() bool {
	return u.Email.IsNoChange() && u.Phone.IsNoChange() &&
		u.Status.IsNoChange() && u.IsVerified.IsNoChange()
}

// ProfileFieldUpdates selects the profile fields to change.
type ProfileFieldUpdates struct {
	FirstName  Field[string]
	LastName   Field[string]
	Address    Field[string]
	PictureURL Field[string]
}

// IsEmpty reports whether no field is touched.
func (p ProfileFieldUpdates) IsEmpty() bool {
	return p.FirstName.IsNoChange() && p.LastName.IsNoChange() &&
		p.Address.IsNoChange() && p.PictureURL.IsNoChange()
}

// AttributeOpKind enumerates attribute operations.
type AttributeOpKind int

const (
	// AttrSet writes one key.
	AttrSet AttributeOpKind = iota
	// AttrRemove deletes one key.
	AttrRemove
	// AttrReplaceAll replaces the whole map. A ReplaceAll anywhere in a
	// sequence supersedes every other operation in that sequence.
	AttrReplaceAll
)

// AttributeOp is one step in an ordered attribute update sequence.
type AttributeOp struct {
	Kind  AttributeOpKind
	Key   string
	Value string
	All   map[string]string
}

// Set writes key to value.
func Set(key, value string) AttributeOp {
	return AttributeOp{Kind: AttrSet, Key: key, Value: value}
}

// Remove deletes key.
func Remove(key string) AttributeOp {
	return AttributeOp{Kind: AttrRemove, Key: key}
}

// ReplaceAll replaces the entire attribute map.
func ReplaceAll(attrs map[string]string) AttributeOp {
	return AttributeOp{Kind: AttrReplaceAll, All: attrs}
}

// BatchUpdate bundles user, profile and attribute updates into one
// atomic command.
type BatchUpdate struct {
	User       UserFieldUpdates
	Profile    ProfileFieldUpdates
	Attributes []AttributeOp
}

// Change records one detected field change.
type Change struct {
	Field string `json:"field"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new,omitempty"`
}

// Result is the outcome of an update command. Exactly one of the
// concrete types below is returned.
type Result interface {
	isResult()
}

// Success carries the updated user and the set of detected changes. An
// empty change set means the command was a no-op.
type Success struct {
	User    *types.User
	Changes []Change
}

// NotFound reports that the target user does not exist.
type NotFound struct{}

// ValidationFailed carries field-level validation errors, including
// those raised by hooks.
type ValidationFailed struct {
	Errors []validation.FieldError
}

// ConstraintViolation reports a uniqueness conflict on one field.
type ConstraintViolation struct {
	Field   string
	Message string
}

// Unknown wraps an infrastructure failure.
type Unknown struct {
	Message string
}

func (Success) isResult()             {}
func (NotFound) isResult()            {}
func (ValidationFailed) isResult()    {}
func (ConstraintViolation) isResult() {}
func (Unknown) isResult()             {}

// Package command implements the update command processor: typed
// three-state field updates, change detection, and atomic batch
// application through the user storage interfaces.
package command

// fieldState is the three-state marker of a field update.
type fieldState int

const (
	noChange fieldState = iota
	setValue
	clearValue
)

// Field is a three-state update for one mutable field: leave the current
// value alone, overwrite it, or null it out. The zero value is NoChange.
type Field[T any] struct {
	state fieldState
	value T
}

// NoChange carries the current value forward.
func NoChange[T any]() Field[T] {
	return Field[T]{state: noChange}
}

// SetValue overwrites the field with v.
func SetValue[T any](v T) Field[T] {
	return Field[T]{state: setValue, value: v}
}

// ClearValue sets a nullable field to null.
func ClearValue[T any]() Field[T] {
	return Field[T]{state: clearValue}
}

// IsNoChange reports whether the field is untouched.
func (f Field[T]) IsNoChange() bool { return f.state == noChange }

// IsSet reports whether the field carries a new value.
func (f Field[T]) IsSet() bool { return f.state == setValue }

// IsClear reports whether the field is being nulled.
func (f Field[T]) IsClear() bool { return f.state == clearValue }

// Value returns the new value and true when the field is set.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.state == setValue
}

// applyPtr resolves a nullable field update against the current pointer
// value and reports whether the result differs.
func applyPtr[T comparable](f Field[T], current *T) (next *T, changed bool) {
	switch f.state {
	case noChange:
		return current, false
	case clearValue:
		return nil, current != nil
	default:
		v := f.value
		if current != nil && *current == v {
			return current, false
		}
		return &v, true
	}
}

// applyScalar resolves a non-nullable field update against the current
// value and reports whether the result differs. ClearValue on a scalar
// is treated as NoChange.
func applyScalar[T comparable](f Field[T], current T) (next T, changed bool) {
	if f.state != setValue {
		return current, false
	}
	if f.value == current {
		return current, false
	}
	return f.value, true
}

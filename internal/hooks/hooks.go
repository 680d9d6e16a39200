// Package hooks provides the user-lifecycle interceptor chain: extension
// points, a priority-ordered registry built at startup, and a chain
// executor with configurable failure strategies.
package hooks

import (
	"context"
	"sort"
	"strings"

	"github.com/kodex-auth/go-core/internal/validation"
	"github.com/kodex-auth/go-core/pkg/types"
)

// Hook is the base contract: a stable name for logs and a priority.
// Lower priorities run first.
type Hook interface {
	Name() string
	Priority() int
}

// LoginFailure is the value threaded through afterLoginFailure hooks.
type LoginFailure struct {
	Identifier string
	UserID     string
	Reason     string
}

// Extension point interfaces. A single extension value may implement any
// subset; Registry.Add sorts it into every matching chain.

type BeforeUserCreate interface {
	Hook
	BeforeUserCreate(ctx context.Context, user *types.User) (*types.User, error)
}

type BeforeUserUpdate interface {
	Hook
	BeforeUserUpdate(ctx context.Context, user *types.User) (*types.User, error)
}

type BeforeProfileUpdate interface {
	Hook
	BeforeProfileUpdate(ctx context.Context, profile *types.UserProfile) (*types.UserProfile, error)
}

type BeforeCustomAttributesUpdate interface {
	Hook
	BeforeCustomAttributesUpdate(ctx context.Context, attrs map[string]string) (map[string]string, error)
}

type BeforeLogin interface {
	Hook
	BeforeLogin(ctx context.Context, identifier string) (string, error)
}

type AfterLoginFailure interface {
	Hook
	AfterLoginFailure(ctx context.Context, failure LoginFailure) (LoginFailure, error)
}

type AfterAuthentication interface {
	Hook
	AfterAuthentication(ctx context.Context, user *types.User) (*types.User, error)
}

type BeforeUserDelete interface {
	Hook
	BeforeUserDelete(ctx context.Context, user *types.User) (*types.User, error)
}

// ValidationError is raised by hooks to signal a validation failure; the
// update processor converts it into a ValidationFailed result rather than
// treating it as an infrastructure error.
type ValidationError struct {
	Errors []validation.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Registry holds the ordered hook chains. It is built at startup and read
// thereafter; no runtime type introspection happens on the hot path.
type Registry struct {
	beforeUserCreate   []BeforeUserCreate
	beforeUserUpdate   []BeforeUserUpdate
	beforeProfile      []BeforeProfileUpdate
	beforeAttrs        []BeforeCustomAttributesUpdate
	beforeLogin        []BeforeLogin
	afterLoginFailure  []AfterLoginFailure
	afterAuth          []AfterAuthentication
	beforeUserDelete   []BeforeUserDelete
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add sorts the hook into every extension point it implements.
func (r *Registry) Add(h Hook) {
	if hook, ok := h.(BeforeUserCreate); ok {
		r.beforeUserCreate = insertByPriority(r.beforeUserCreate, hook)
	}
	if hook, ok := h.(BeforeUserUpdate); ok {
		r.beforeUserUpdate = insertByPriority(r.beforeUserUpdate, hook)
	}
	if hook, ok := h.(BeforeProfileUpdate); ok {
		r.beforeProfile = insertByPriority(r.beforeProfile, hook)
	}
	if hook, ok := h.(BeforeCustomAttributesUpdate); ok {
		r.beforeAttrs = insertByPriority(r.beforeAttrs, hook)
	}
	if hook, ok := h.(BeforeLogin); ok {
		r.beforeLogin = insertByPriority(r.beforeLogin, hook)
	}
	if hook, ok := h.(AfterLoginFailure); ok {
		r.afterLoginFailure = insertByPriority(r.afterLoginFailure, hook)
	}
	if hook, ok := h.(AfterAuthentication); ok {
		r.afterAuth = insertByPriority(r.afterAuth, hook)
	}
	if hook, ok := h.(BeforeUserDelete); ok {
		r.beforeUserDelete = insertByPriority(r.beforeUserDelete, hook)
	}
}

// insertByPriority keeps the chain sorted ascending by priority, stable
// for equal priorities.
func insertByPriority[H Hook](chain []H, hook H) []H {
	chain = append(chain, hook)
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Priority() < chain[j].Priority()
	})
	return chain
}

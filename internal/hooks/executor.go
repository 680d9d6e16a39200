package hooks

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/pkg/types"
)

// FailureStrategy selects how the executor reacts to a failing hook.
type FailureStrategy string

const (
	// FailFast propagates the first failure and stops the chain.
	FailFast FailureStrategy = "fail-fast"
	// CollectErrors runs every hook and raises one aggregated error at the
	// end; the transformed value survives only if nothing failed.
	CollectErrors FailureStrategy = "collect-errors"
	// SkipFailed logs and skips failures, carrying forward the value
	// produced by the most recent successful hook.
	SkipFailed FailureStrategy = "skip-failed"
)

// Executor runs hook chains under one failure strategy.
type Executor struct {
	registry *Registry
	strategy FailureStrategy
	logger   *zap.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, strategy FailureStrategy, logger *zap.Logger) (*Executor, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	switch strategy {
	case FailFast, CollectErrors, SkipFailed:
	case "":
		strategy = FailFast
	default:
		return nil, fmt.Errorf("unknown hook failure strategy %q", strategy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, strategy: strategy, logger: logger}, nil
}

// step is one named transformation in a chain.
type step[T any] struct {
	name  string
	apply func(ctx context.Context, value T) (T, error)
}

// runChain folds the value through the steps under the executor's failure
// strategy. The original input is returned alongside any error.
func runChain[T any](ctx context.Context, e *Executor, point string, value T, steps []step[T]) (T, error) {
	original := value
	var collected error

	for _, s := range steps {
		next, err := s.apply(ctx, value)
		if err == nil {
			value = next
			continue
		}

		switch e.strategy {
		case FailFast:
			return original, fmt.Errorf("hook %s at %s: %w", s.name, point, err)
		case CollectErrors:
			collected = multierr.Append(collected, fmt.Errorf("hook %s: %w", s.name, err))
		case SkipFailed:
			e.logger.Warn("hook failed, skipping",
				zap.String("point", point),
				zap.String("hook", s.name),
				zap.Error(err))
		}
	}

	if collected != nil {
		return original, fmt.Errorf("at %s: %w", point, collected)
	}
	return value, nil
}

// BeforeUserCreate threads the user through the beforeUserCreate chain.
func (e *Executor) BeforeUserCreate(ctx context.Context, user *types.User) (*types.User, error) {
	steps := make([]step[*types.User], len(e.registry.beforeUserCreate))
	for i, h := range e.registry.beforeUserCreate {
		steps[i] = step[*types.User]{name: h.Name(), apply: h.BeforeUserCreate}
	}
	return runChain(ctx, e, "beforeUserCreate", user, steps)
}

// BeforeUserUpdate threads the user through the beforeUserUpdate chain.
func (e *Executor) BeforeUserUpdate(ctx context.Context, user *types.User) (*types.User, error) {
	steps := make([]step[*types.User], len(e.registry.beforeUserUpdate))
	for i, h := range e.registry.beforeUserUpdate {
		steps[i] = step[*types.User]{name: h.Name(), apply: h.BeforeUserUpdate}
	}
	return runChain(ctx, e, "beforeUserUpdate", user, steps)
}

// BeforeProfileUpdate threads the profile through the beforeProfileUpdate
// chain.
func (e *Executor) BeforeProfileUpdate(ctx context.Context, profile *types.UserProfile) (*types.UserProfile, error) {
	steps := make([]step[*types.UserProfile], len(e.registry.beforeProfile))
	for i, h := range e.registry.beforeProfile {
		steps[i] = step[*types.UserProfile]{name: h.Name(), apply: h.BeforeProfileUpdate}
	}
	return runChain(ctx, e, "beforeProfileUpdate", profile, steps)
}

// BeforeCustomAttributesUpdate threads the attribute map through the
// beforeCustomAttributesUpdate chain.
func (e *Executor) BeforeCustomAttributesUpdate(ctx context.Context, attrs map[string]string) (map[string]string, error) {
	steps := make([]step[map[string]string], len(e.registry.beforeAttrs))
	for i, h := range e.registry.beforeAttrs {
		steps[i] = step[map[string]string]{name: h.Name(), apply: h.BeforeCustomAttributesUpdate}
	}
	return runChain(ctx, e, "beforeCustomAttributesUpdate", attrs, steps)
}

// BeforeLogin threads the identifier through the beforeLogin chain.
func (e *Executor) BeforeLogin(ctx context.Context, identifier string) (string, error) {
	steps := make([]step[string], len(e.registry.beforeLogin))
	for i, h := range e.registry.beforeLogin {
		steps[i] = step[string]{name: h.Name(), apply: h.BeforeLogin}
	}
	return runChain(ctx, e, "beforeLogin", identifier, steps)
}

// AfterLoginFailure threads the failure description through the
// afterLoginFailure chain.
func (e *Executor) AfterLoginFailure(ctx context.Context, failure LoginFailure) (LoginFailure, error) {
	steps := make([]step[LoginFailure], len(e.registry.afterLoginFailure))
	for i, h := range e.registry.afterLoginFailure {
		steps[i] = step[LoginFailure]{name: h.Name(), apply: h.AfterLoginFailure}
	}
	return runChain(ctx, e, "afterLoginFailure", failure, steps)
}

// AfterAuthentication threads the user through the afterAuthentication
// chain.
func (e *Executor) AfterAuthentication(ctx context.Context, user *types.User) (*types.User, error) {
	steps := make([]step[*types.User], len(e.registry.afterAuth))
	for i, h := range e.registry.afterAuth {
		steps[i] = step[*types.User]{name: h.Name(), apply: h.AfterAuthentication}
	}
	return runChain(ctx, e, "afterAuthentication", user, steps)
}

// BeforeUserDelete threads the user through the beforeUserDelete chain.
func (e *Executor) BeforeUserDelete(ctx context.Context, user *types.User) (*types.User, error) {
	steps := make([]step[*types.User], len(e.registry.beforeUserDelete))
	for i, h := range e.registry.beforeUserDelete {
		steps[i] = step[*types.User]{name: h.Name(), apply: h.BeforeUserDelete}
	}
	return runChain(ctx, e, "beforeUserDelete", user, steps)
}

package command

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/eventbus"
	"github.com/kodex-auth/go-core/internal/hooks"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/internal/validation"
	"github.com/kodex-auth/go-core/pkg/types"
)

// Config tunes the update processor.
type Config struct {
	Email           validation.EmailOptions
	Phone           validation.PhoneOptions
	AttributeLimits validation.AttributeLimits

	Logger *zap.Logger
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.AttributeLimits.MaxKeyLength == 0 && c.AttributeLimits.MaxValueLength == 0 &&
		c.AttributeLimits.MaxAttributes == 0 {
		c.AttributeLimits = validation.DefaultAttributeLimits()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Processor executes update commands: load, hook, change-detect, apply.
type Processor struct {
	users    user.Store
	profiles user.ProfileStore
	attrs    user.AttributeStore
	hooks    *hooks.Executor
	bus      *eventbus.Bus
	cfg      Config
	logger   *zap.Logger
}

// NewProcessor creates an update processor.
func NewProcessor(users user.Store, profiles user.ProfileStore, attrs user.AttributeStore,
	executor *hooks.Executor, bus *eventbus.Bus, cfg Config) (*Processor, error) {
	if users == nil || profiles == nil || attrs == nil {
		return nil, errors.New("user, profile and attribute stores are required")
	}
	if executor == nil {
		return nil, errors.New("hook executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		users:    users,
		profiles: profiles,
		attrs:    attrs,
		hooks:    executor,
		bus:      bus,
		cfg:      cfg,
		logger:   cfg.Logger,
	}, nil
}

// UpdateUserFields applies three-state updates to the user row.
func (p *Processor) UpdateUserFields(ctx context.Context, userID string, upd UserFieldUpdates) Result {
	current, res := p.loadUser(ctx, userID)
	if res != nil {
		return res
	}

	updated, changes, vres := p.resolveUserFields(current, upd)
	if vres != nil {
		return vres
	}

	hooked, err := p.hooks.BeforeUserUpdate(ctx, updated)
	if err != nil {
		return hookFailure(err)
	}
	changes = mergeHookChanges(changes, updated, hooked)

	if len(changes) == 0 {
		return Success{User: current, Changes: nil}
	}

	if err := p.users.UpdateUser(ctx, hooked); err != nil {
		return storeFailure(err)
	}

	p.publish(hooked.RealmID, types.KindUserUpdated, hooked.ID, changes)
	final, res := p.loadUser(ctx, userID)
	if res != nil {
		return res
	}
	return Success{User: final, Changes: changes}
}

// UpdateProfileFields applies three-state updates to the profile row,
// creating it if absent.
func (p *Processor) UpdateProfileFields(ctx context.Context, userID string, upd ProfileFieldUpdates) Result {
	owner, res := p.loadUser(ctx, userID)
	if res != nil {
		return res
	}

	current, err := p.profiles.GetProfile(ctx, userID)
	if errors.Is(err, types.ErrProfileNotFound) {
		current = &types.UserProfile{UserID: userID}
	} else if err != nil {
		return Unknown{Message: err.Error()}
	}

	updated, changes := resolveProfileFields(current, upd)

	hooked, err := p.hooks.BeforeProfileUpdate(ctx, updated)
	if err != nil {
		return hookFailure(err)
	}

	if len(changes) == 0 && profilesEqual(updated, hooked) {
		return Success{User: owner, Changes: nil}
	}

	if err := p.profiles.UpsertProfile(ctx, hooked); err != nil {
		return storeFailure(err)
	}

	p.publish(owner.RealmID, types.KindUserUpdated, userID, changes)
	return Success{User: owner, Changes: changes}
}

// UpdateAttributes applies an ordered attribute operation sequence.
func (p *Processor) UpdateAttributes(ctx context.Context, userID string, ops []AttributeOp) Result {
	owner, res := p.loadUser(ctx, userID)
	if res != nil {
		return res
	}

	current, err := p.attrs.GetAttributes(ctx, userID)
	if err != nil {
		return Unknown{Message: err.Error()}
	}

	next, replaced := resolveAttributeOps(current, ops)

	clean, verrs := validation.ValidateAttributes(next, p.cfg.AttributeLimits)
	if len(verrs) > 0 {
		return ValidationFailed{Errors: verrs}
	}

	hooked, err := p.hooks.BeforeCustomAttributesUpdate(ctx, clean)
	if err != nil {
		return hookFailure(err)
	}

	changes := diffAttributes(current, hooked)
	if len(changes) == 0 {
		return Success{User: owner, Changes: nil}
	}

	if err := p.attrs.ReplaceAttributes(ctx, userID, hooked); err != nil {
		return storeFailure(err)
	}

	kind := types.KindUserAttrsUpdated
	if replaced {
		kind = types.KindUserAttrsReplaced
	}
	p.publish(owner.RealmID, kind, userID, changes)
	return Success{User: owner, Changes: changes}
}

// UpdateUserBatch applies user, profile and attribute updates in one
// storage transaction. If any sub-update violates a constraint the whole
// batch aborts and the original state is preserved.
func (p *Processor) UpdateUserBatch(ctx context.Context, userID string, batch BatchUpdate) Result {
	current, res := p.loadUser(ctx, userID)
	if res != nil {
		return res
	}

	storeBatch := &user.Batch{UserID: userID}
	var changes []Change

	if !batch.User.IsEmpty() {
		updated, userChanges, vres := p.resolveUserFields(current, batch.User)
		if vres != nil {
			return vres
		}
		hooked, err := p.hooks.BeforeUserUpdate(ctx, updated)
		if err != nil {
			return hookFailure(err)
		}
		userChanges = mergeHookChanges(userChanges, updated, hooked)
		if len(userChanges) > 0 {
			storeBatch.User = hooked
			changes = append(changes, userChanges...)
		}
	}

	if !batch.Profile.IsEmpty() {
		profile, err := p.profiles.GetProfile(ctx, userID)
		if errors.Is(err, types.ErrProfileNotFound) {
			profile = &types.UserProfile{UserID: userID}
		} else if err != nil {
			return Unknown{Message: err.Error()}
		}
		updated, profileChanges := resolveProfileFields(profile, batch.Profile)
		hooked, err := p.hooks.BeforeProfileUpdate(ctx, updated)
		if err != nil {
			return hookFailure(err)
		}
		if len(profileChanges) > 0 || !profilesEqual(updated, hooked) {
			storeBatch.Profile = hooked
			changes = append(changes, profileChanges...)
		}
	}

	if len(batch.Attributes) > 0 {
		currentAttrs, err := p.attrs.GetAttributes(ctx, userID)
		if err != nil {
			return Unknown{Message: err.Error()}
		}
		next, _ := resolveAttributeOps(currentAttrs, batch.Attributes)
		clean, verrs := validation.ValidateAttributes(next, p.cfg.AttributeLimits)
		if len(verrs) > 0 {
			return ValidationFailed{Errors: verrs}
		}
		hooked, err := p.hooks.BeforeCustomAttributesUpdate(ctx, clean)
		if err != nil {
			return hookFailure(err)
		}
		if attrChanges := diffAttributes(currentAttrs, hooked); len(attrChanges) > 0 {
			storeBatch.Attributes = hooked
			changes = append(changes, attrChanges...)
		}
	}

	if len(changes) == 0 {
		return Success{User: current, Changes: nil}
	}

	if err := p.users.ApplyBatch(ctx, storeBatch); err != nil {
		return storeFailure(err)
	}

	p.publish(current.RealmID, types.KindUserUpdated, userID, changes)
	final, res := p.loadUser(ctx, userID)
	if res != nil {
		return res
	}
	return Success{User: final, Changes: changes}
}

func (p *Processor) loadUser(ctx context.Context, userID string) (*types.User, Result) {
	current, err := p.users.GetUserByID(ctx, userID)
	if errors.Is(err, types.ErrUserNotFound) {
		return nil, NotFound{}
	}
	if err != nil {
		return nil, Unknown{Message: err.Error()}
	}
	return current, nil
}

// resolveUserFields validates and applies the field updates against a
// copy of the current user, recording detected changes.
func (p *Processor) resolveUserFields(current *types.User, upd UserFieldUpdates) (*types.User, []Change, Result) {
	updated := *current
	var changes []Change

	if !upd.Email.IsNoChange() {
		emailUpd := upd.Email
		if raw, ok := emailUpd.Value(); ok {
			res := validation.ValidateEmail(raw, p.cfg.Email)
			if !res.Valid() {
				return nil, nil, ValidationFailed{Errors: res.Errors}
			}
			emailUpd = SetValue(res.Sanitized)
		}
		if next, changed := applyPtr(emailUpd, current.Email); changed {
			updated.Email = next
			changes = append(changes, Change{Field: "email", Old: deref(current.Email), New: deref(next)})
		}
	}

	if !upd.Phone.IsNoChange() {
		phoneUpd := upd.Phone
		if raw, ok := phoneUpd.Value(); ok {
			res := validation.ValidatePhone(raw, p.cfg.Phone)
			if !res.Valid() {
				return nil, nil, ValidationFailed{Errors: res.Errors}
			}
			phoneUpd = SetValue(res.Sanitized)
		}
		if next, changed := applyPtr(phoneUpd, current.Phone); changed {
			updated.Phone = next
			changes = append(changes, Change{Field: "phone", Old: deref(current.Phone), New: deref(next)})
		}
	}

	if next, changed := applyScalar(upd.Status, current.Status); changed {
		updated.Status = next
		changes = append(changes, Change{Field: "status", Old: current.Status, New: next})
	}

	if next, changed := applyScalar(upd.IsVerified, current.IsVerified); changed {
		updated.IsVerified = next
		changes = append(changes, Change{Field: "is_verified", Old: current.IsVerified, New: next})
	}

	return &updated, changes, nil
}

func resolveProfileFields(current *types.UserProfile, upd ProfileFieldUpdates) (*types.UserProfile, []Change) {
	updated := *current
	var changes []Change

	apply := func(name string, f Field[string], field **string) {
		if next, changed := applyPtr(f, *field); changed {
			changes = append(changes, Change{Field: name, Old: deref(*field), New: deref(next)})
			*field = next
		}
	}
	apply("first_name", upd.FirstName, &updated.FirstName)
	apply("last_name", upd.LastName, &updated.LastName)
	apply("address", upd.Address, &updated.Address)
	apply("picture_url", upd.PictureURL, &updated.PictureURL)

	return &updated, changes
}

// resolveAttributeOps folds the ordered operation sequence over the
// current map. A ReplaceAll anywhere supersedes every other operation.
func resolveAttributeOps(current map[string]string, ops []AttributeOp) (map[string]string, bool) {
	for _, op := range ops {
		if op.Kind == AttrReplaceAll {
			next := make(map[string]string, len(op.All))
			for k, v := range op.All {
				next[k] = v
			}
			return next, true
		}
	}

	next := make(map[string]string, len(current))
	for k, v := range current {
		next[k] = v
	}
	for _, op := range ops {
		switch op.Kind {
		case AttrSet:
			next[op.Key] = op.Value
		case AttrRemove:
			delete(next, op.Key)
		}
	}
	return next, false
}

func diffAttributes(old, next map[string]string) []Change {
	var changes []Change
	for k, v := range next {
		if prev, ok := old[k]; !ok {
			changes = append(changes, Change{Field: "attributes." + k, New: v})
		} else if prev != v {
			changes = append(changes, Change{Field: "attributes." + k, Old: prev, New: v})
		}
	}
	for k, v := range old {
		if _, ok := next[k]; !ok {
			changes = append(changes, Change{Field: "attributes." + k, Old: v})
		}
	}
	return changes
}

// mergeHookChanges appends change entries for fields a hook mutated
// beyond the requested updates.
func mergeHookChanges(changes []Change, before, after *types.User) []Change {
	if before == after {
		return changes
	}
	if deref(before.Email) != deref(after.Email) {
		changes = append(changes, Change{Field: "email", Old: deref(before.Email), New: deref(after.Email)})
	}
	if deref(before.Phone) != deref(after.Phone) {
		changes = append(changes, Change{Field: "phone", Old: deref(before.Phone), New: deref(after.Phone)})
	}
	if before.Status != after.Status {
		changes = append(changes, Change{Field: "status", Old: before.Status, New: after.Status})
	}
	if before.IsVerified != after.IsVerified {
		changes = append(changes, Change{Field: "is_verified", Old: before.IsVerified, New: after.IsVerified})
	}
	return changes
}

func profilesEqual(a, b *types.UserProfile) bool {
	return deref(a.FirstName) == deref(b.FirstName) &&
		deref(a.LastName) == deref(b.LastName) &&
		deref(a.Address) == deref(b.Address) &&
		deref(a.PictureURL) == deref(b.PictureURL)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// hookFailure converts a hook error: validation errors become a
// ValidationFailed result, everything else is Unknown.
func hookFailure(err error) Result {
	var verr *hooks.ValidationError
	if errors.As(err, &verr) {
		return ValidationFailed{Errors: verr.Errors}
	}
	return Unknown{Message: err.Error()}
}

// storeFailure converts a storage error into its typed result.
func storeFailure(err error) Result {
	switch {
	case errors.Is(err, types.ErrUserNotFound):
		return NotFound{}
	case errors.Is(err, types.ErrEmailAlreadyExists):
		return ConstraintViolation{Field: "email", Message: "email is already in use"}
	case errors.Is(err, types.ErrPhoneAlreadyExists):
		return ConstraintViolation{Field: "phone", Message: "phone is already in use"}
	default:
		return Unknown{Message: err.Error()}
	}
}

func (p *Processor) publish(realmID string, kind types.EventKind, userID string, changes []Change) {
	if p.bus == nil {
		return
	}
	fields := make(map[string]any, len(changes))
	for _, c := range changes {
		fields[c.Field] = c.New
	}
	p.bus.Publish(types.NewEvent(realmID, types.SeverityInfo, types.UserMutated{
		K:       kind,
		UserID:  userID,
		Changes: fields,
	}))
}

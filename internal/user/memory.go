package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// MemoryStore implements Store, ProfileStore, AttributeStore and
// RoleStore in memory. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*types.User
	profiles map[string]*types.UserProfile
	attrs    map[string]map[string]string
	roles    map[string]*types.Role            // realm|name
	grants   map[string]map[string]struct{}    // userID -> realm|name
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*types.User),
		profiles: make(map[string]*types.UserProfile),
		attrs:    make(map[string]map[string]string),
		roles:    make(map[string]*types.Role),
		grants:   make(map[string]map[string]struct{}),
	}
}

func roleKey(realmID, name string) string { return realmID + "|" + name }

// CreateUser stores a new user account.
func (s *MemoryStore) CreateUser(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(user); err != nil {
		return err
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

// checkUniqueLocked enforces the email and phone uniqueness constraints
// within a realm, skipping the user's own row.
func (s *MemoryStore) checkUniqueLocked(user *types.User) error {
	for _, existing := range s.users {
		if existing.ID == user.ID || existing.RealmID != user.RealmID {
			continue
		}
		if user.Email != nil && existing.Email != nil && *existing.Email == *user.Email {
			return types.ErrEmailAlreadyExists
		}
		if user.Phone != nil && existing.Phone != nil && *existing.Phone == *user.Phone {
			return types.ErrPhoneAlreadyExists
		}
	}
	return nil
}

// GetUserByID retrieves a user by id.
func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, types.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// GetUserByEmail retrieves a user by normalized email within a realm.
func (s *MemoryStore) GetUserByEmail(_ context.Context, realmID, email string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.RealmID == realmID && user.Email != nil && *user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, types.ErrUserNotFound
}

// GetUserByPhone retrieves a user by E.164 phone within a realm.
func (s *MemoryStore) GetUserByPhone(_ context.Context, realmID, phone string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.RealmID == realmID && user.Phone != nil && *user.Phone == phone {
			copied := *user
			return &copied, nil
		}
	}
	return nil, types.ErrUserNotFound
}

// UpdateUser writes the mutable columns of the user row.
func (s *MemoryStore) UpdateUser(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUserLocked(user)
}

func (s *MemoryStore) updateUserLocked(user *types.User) error {
	current, ok := s.users[user.ID]
	if !ok {
		return types.ErrUserNotFound
	}
	if err := s.checkUniqueLocked(user); err != nil {
		return err
	}
	current.Email = user.Email
	current.Phone = user.Phone
	current.Status = user.Status
	current.IsVerified = user.IsVerified
	current.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *MemoryStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return types.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateLastLogin records a successful authentication timestamp.
func (s *MemoryStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return types.ErrUserNotFound
	}
	user.LastLoginAt = &at
	return nil
}

// DeleteUser removes a user account and its dependent rows.
func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return types.ErrUserNotFound
	}
	delete(s.users, userID)
	delete(s.profiles, userID)
	delete(s.attrs, userID)
	delete(s.grants, userID)
	return nil
}

// ApplyBatch applies the batch under one lock. On any failure the store
// is restored to its state before the batch.
func (s *MemoryStore) ApplyBatch(_ context.Context, batch *Batch) error {
	if batch.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	savedUser, hadUser := s.users[batch.UserID]
	var userCopy types.User
	if hadUser {
		userCopy = *savedUser
	}
	savedProfile, hadProfile := s.profiles[batch.UserID]
	savedAttrs, hadAttrs := s.attrs[batch.UserID]

	restore := func() {
		if hadUser {
			restored := userCopy
			s.users[batch.UserID] = &restored
		}
		if hadProfile {
			s.profiles[batch.UserID] = savedProfile
		} else {
			delete(s.profiles, batch.UserID)
		}
		if hadAttrs {
			s.attrs[batch.UserID] = savedAttrs
		} else {
			delete(s.attrs, batch.UserID)
		}
	}

	if batch.User != nil {
		if err := s.updateUserLocked(batch.User); err != nil {
			restore()
			return err
		}
	}
	if batch.Profile != nil {
		copied := *batch.Profile
		s.profiles[batch.UserID] = &copied
	}
	if batch.Attributes != nil {
		copied := make(map[string]string, len(batch.Attributes))
		for k, v := range batch.Attributes {
			copied[k] = v
		}
		s.attrs[batch.UserID] = copied
	}
	return nil
}

// GetProfile retrieves the profile for a user.
func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*types.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, types.ErrProfileNotFound
	}
	copied := *profile
	return &copied, nil
}

// UpsertProfile creates or replaces the profile row.
func (s *MemoryStore) UpsertProfile(_ context.Context, profile *types.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *profile
	s.profiles[profile.UserID] = &copied
	return nil
}

// GetAttributes returns the full attribute map for a user.
func (s *MemoryStore) GetAttributes(_ context.Context, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs := make(map[string]string, len(s.attrs[userID]))
	for k, v := range s.attrs[userID] {
		attrs[k] = v
	}
	return attrs, nil
}

// ReplaceAttributes replaces the full attribute map for a user.
func (s *MemoryStore) ReplaceAttributes(_ context.Context, userID string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	s.attrs[userID] = copied
	return nil
}

// CreateRole stores a new role.
func (s *MemoryStore) CreateRole(_ context.Context, role *types.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *role
	s.roles[roleKey(role.RealmID, role.Name)] = &copied
	return nil
}

// GetRole retrieves a role by name within a realm.
func (s *MemoryStore) GetRole(_ context.Context, realmID, name string) (*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[roleKey(realmID, name)]
	if !ok {
		return nil, types.ErrRoleNotFound
	}
	copied := *role
	return &copied, nil
}

// ListRolesForUser returns the role names assigned to a user, sorted.
func (s *MemoryStore) ListRolesForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for key := range s.grants[userID] {
		if role, ok := s.roles[key]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// AssignRole grants a role to a user.
func (s *MemoryStore) AssignRole(_ context.Context, userID, realmID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roleKey(realmID, roleName)
	if _, ok := s.roles[key]; !ok {
		return types.ErrRoleNotFound
	}
	if s.grants[userID] == nil {
		s.grants[userID] = make(map[string]struct{})
	}
	s.grants[userID][key] = struct{}{}
	return nil
}

// RemoveRole revokes a role from a user.
func (s *MemoryStore) RemoveRole(_ context.Context, userID, realmID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.grants[userID], roleKey(realmID, roleName))
	return nil
}

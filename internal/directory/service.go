package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deskbill.org/internal/audit"
)

// Audit action labels emitted by directory mutations.
const (
	ActionUserRegister  = "USER_REGISTER"
	ActionUserUpdate    = "USER_UPDATE"
	ActionCredentialSet = "USER_CREDENTIAL_SET"
)

// Service defines user directory operations. There is deliberately no
// delete: users referenced by transactions and audit entries must stay
// resolvable forever.
type Service interface {
	Register(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, id string, patch Patch) (User, error)
	Get(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Exists(ctx context.Context, id string) (bool, error)
	SetPasswordHash(ctx context.Context, id, hash string) error
	List(ctx context.Context) ([]User, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string // email -> user id, exact match as stored
	order   []string
	now     func() time.Time
	trail   audit.Trail
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// AttachTrail enables audit emission for directory mutations. The trail
// usually resolves actors against this same directory, so it is wired
// after construction.
func (s *InMemory) AttachTrail(trail audit.Trail) {
	s.trail = trail
}

// resolveActor rejects a mutation up front when the actor on the
// context cannot carry an audit entry. Users are never deleted, so an
// actor that resolves here still resolves when record runs and the
// mutation cannot commit without its entry.
func (s *InMemory) resolveActor(ctx context.Context) error {
	if s.trail == nil {
		return nil
	}
	actor := audit.Actor(ctx)
	if actor == audit.AnonymousActor {
		return nil
	}
	s.mu.RLock()
	_, ok := s.users[actor]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: actor %s", audit.ErrNotFound, actor)
	}
	return nil
}

// record appends the audit entry for a completed mutation. Called
// outside the directory lock: the trail resolves the acting user
// against this directory.
func (s *InMemory) record(ctx context.Context, action string) error {
	if s.trail == nil {
		return nil
	}
	_, err := s.trail.Record(ctx, audit.Actor(ctx), action)
	return err
}

func (s *InMemory) Register(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		return User{}, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	if u.GivenName == "" {
		return User{}, fmt.Errorf("%w: given name is required", ErrInvalidArgument)
	}
	if u.LastName == "" {
		return User{}, fmt.Errorf("%w: last name is required", ErrInvalidArgument)
	}
	if u.ID == audit.AnonymousActor {
		// Reserved for audit attribution of unresolved identities.
		return User{}, fmt.Errorf("%w: user id %s is reserved", ErrConflict, u.ID)
	}
	if err := s.resolveActor(ctx); err != nil {
		return User{}, err
	}

	u, err := s.register(u)
	if err != nil {
		return User{}, err
	}
	if err := s.record(ctx, ActionUserRegister); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *InMemory) register(u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return User{}, fmt.Errorf("%w: user id %s", ErrConflict, u.ID)
	}
	if u.Email != "" {
		if _, ok := s.byEmail[u.Email]; ok {
			return User{}, fmt.Errorf("%w: email %s", ErrConflict, u.Email)
		}
	}

	u.CreatedAt = s.now().UTC()
	stored := u
	s.users[u.ID] = &stored
	if u.Email != "" {
		s.byEmail[u.Email] = u.ID
	}
	s.order = append(s.order, u.ID)
	return u, nil
}

func (s *InMemory) Update(ctx context.Context, id string, patch Patch) (User, error) {
	if err := s.resolveActor(ctx); err != nil {
		return User{}, err
	}
	u, err := s.update(id, patch)
	if err != nil {
		return User{}, err
	}
	if err := s.record(ctx, ActionUserUpdate); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *InMemory) update(id string, patch Patch) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if patch.GivenName != nil && *patch.GivenName == "" {
		return User{}, fmt.Errorf("%w: given name cannot be cleared", ErrInvalidArgument)
	}
	if patch.LastName != nil && *patch.LastName == "" {
		return User{}, fmt.Errorf("%w: last name cannot be cleared", ErrInvalidArgument)
	}
	if patch.Email != nil && *patch.Email != "" && *patch.Email != u.Email {
		if _, taken := s.byEmail[*patch.Email]; taken {
			return User{}, fmt.Errorf("%w: email %s", ErrConflict, *patch.Email)
		}
	}

	if patch.GivenName != nil {
		u.GivenName = *patch.GivenName
	}
	if patch.MiddleName != nil {
		u.MiddleName = *patch.MiddleName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Email != nil {
		if u.Email != "" {
			delete(s.byEmail, u.Email)
		}
		u.Email = *patch.Email
		if u.Email != "" {
			s.byEmail[u.Email] = id
		}
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.Program != nil {
		u.Program = *patch.Program
	}
	if patch.Year != nil {
		u.Year = *patch.Year
	}
	if patch.Department != nil {
		u.Department = *patch.Department
	}
	return *u, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return *u, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return User{}, fmt.Errorf("%w: email %s", ErrNotFound, email)
	}
	return *s.users[id], nil
}

func (s *InMemory) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *InMemory) SetPasswordHash(ctx context.Context, id, hash string) error {
	if err := s.resolveActor(ctx); err != nil {
		return err
	}
	if err := s.setPasswordHash(id, hash); err != nil {
		return err
	}
	return s.record(ctx, ActionCredentialSet)
}

func (s *InMemory) setPasswordHash(id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	u.PasswordHash = hash
	return nil
}

func (s *InMemory) List(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]User, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, *s.users[id])
	}
	return res, nil
}

package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	roles       map[string]*CustomRole
	sessions    map[string]*Session
	departments map[string]*Department
	// membership is keyed by userID, value is the set of department ids.
	membership map[string]map[string]struct{}
	tenants    map[string]*Tenant
	security   map[string]*SecuritySettings
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		roles:       make(map[string]*CustomRole),
		sessions:    make(map[string]*Session),
		departments: make(map[string]*Department),
		membership:  make(map[string]map[string]struct{}),
		tenants:     make(map[string]*Tenant),
		security:    make(map[string]*SecuritySettings),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Roles(context.Context) CustomRoleStore       { return (*memRoles)(m) }
func (m *MemoryStore) Sessions(context.Context) SessionStore       { return (*memSessions)(m) }
func (m *MemoryStore) Departments(context.Context) DepartmentStore { return (*memDepartments)(m) }
func (m *MemoryStore) Tenants(context.Context) TenantStore         { return (*memTenants)(m) }

// Seed helpers ---------------------------------------------------------

// PutUser stores a user record, replacing any previous one.
func (m *MemoryStore) PutUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

// PutRole stores a custom role.
func (m *MemoryStore) PutRole(r *CustomRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.roles[r.ID] = &cp
}

// PutDepartment stores a department.
func (m *MemoryStore) PutDepartment(d *Department) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.departments[d.ID] = &cp
}

// PutTenant stores a tenant and its optional security settings.
func (m *MemoryStore) PutTenant(t *Tenant, sec *SecuritySettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tenants[t.ID] = &cp
	if sec != nil {
		sc := *sec
		m.security[t.ID] = &sc
	}
}

// User store -----------------------------------------------------------

type memUsers MemoryStore

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.withDepartments(u), nil
}

func (m *memUsers) FindByEmail(_ context.Context, tenantID, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.TenantID == tenantID && strings.ToLower(u.Email) == email {
			return m.withDepartments(u), nil
		}
	}
	return nil, ErrNotFound
}

// withDepartments copies the record with membership resolved. Caller must
// hold at least a read lock.
func (m *memUsers) withDepartments(u *User) *User {
	cp := *u
	if u.AccountLockedUntil != nil {
		t := *u.AccountLockedUntil
		cp.AccountLockedUntil = &t
	}
	cp.Departments = []string{}
	for id := range m.membership[u.ID] {
		cp.Departments = append(cp.Departments, id)
	}
	return &cp
}

func (m *memUsers) RecordLoginFailure(_ context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = attempts
	u.AccountLockedUntil = lockedUntil
	return nil
}

func (m *memUsers) ResetLoginFailures(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string, expired bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordExpired = expired
	return nil
}

// Custom role store ----------------------------------------------------

type memRoles MemoryStore

func (m *memRoles) Find(_ context.Context, id string) (*CustomRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Session store --------------------------------------------------------

type memSessions MemoryStore

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return ErrConflict
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) ListByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Department store -----------------------------------------------------

type memDepartments MemoryStore

func (m *memDepartments) Find(_ context.Context, id string) (*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDepartments) Assign(_ context.Context, userID, departmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.membership[userID]
	if !ok {
		set = make(map[string]struct{})
		m.membership[userID] = set
	}
	if _, exists := set[departmentID]; exists {
		return false, nil
	}
	set[departmentID] = struct{}{}
	return true, nil
}

func (m *memDepartments) Remove(_ context.Context, userID, departmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.membership[userID]
	if !ok {
		return false, nil
	}
	if _, exists := set[departmentID]; !exists {
		return false, nil
	}
	delete(set, departmentID)
	return true, nil
}

func (m *memDepartments) ListByUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for id := range m.membership[userID] {
		out = append(out, id)
	}
	return out, nil
}

// Tenant store ---------------------------------------------------------

type memTenants MemoryStore

func (m *memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) Security(_ context.Context, tenantID string) (*SecuritySettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.security[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

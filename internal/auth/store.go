package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) CustomRoleStore
	Sessions(ctx context.Context) SessionStore
	Departments(ctx context.Context) DepartmentStore
	Tenants(ctx context.Context) TenantStore
}

// UserStore manages account records.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	// RecordLoginFailure persists the failed-attempt counter and, when the
	// lock has been armed, the lock expiry.
	RecordLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error
	ResetLoginFailures(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string, expired bool) error
}

// CustomRoleStore resolves custom role ids to their permission trees.
type CustomRoleStore interface {
	Find(ctx context.Context, id string) (*CustomRole, error)
}

// SessionStore tracks issued sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// DepartmentStore manages departments and membership. Assign and Remove
// are idempotent: the boolean reports whether anything changed.
type DepartmentStore interface {
	Find(ctx context.Context, id string) (*Department, error)
	Assign(ctx context.Context, userID, departmentID string) (changed bool, err error)
	Remove(ctx context.Context, userID, departmentID string) (changed bool, err error)
	ListByUser(ctx context.Context, userID string) ([]string, error)
}

// TenantStore exposes per-tenant security settings.
type TenantStore interface {
	Find(ctx context.Context, id string) (*Tenant, error)
	Security(ctx context.Context, tenantID string) (*SecuritySettings, error)
}

package auth

import (
	"time"

	"clinigate.org/internal/access"
)

// Tenant is the isolation boundary for one clinic organization.
type Tenant struct {
	ID        string
	Name      string
	Subdomain string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SecuritySettings are per-tenant knobs consumed at login time. Zero
// values fall back to service defaults.
type SecuritySettings struct {
	SessionTTL       time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// User is an account record as stored. Role is kept raw here; it is
// normalized once when the actor is built.
type User struct {
	ID                  string
	TenantID            string
	Email               string
	PasswordHash        string
	Role                string
	IsOwner             bool
	IsActive            bool
	CustomRoleID        string
	Departments         []string
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	PasswordExpired     bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CustomRole carries the stored permission tree a clinic admin assembled
// for a group of staff accounts.
type CustomRole struct {
	ID          string
	TenantID    string
	Name        string
	Permissions access.PermissionTree
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Department groups staff within a tenant.
type Department struct {
	ID       string
	TenantID string
	Name     string
	IsActive bool
}

// Session is one tracked login. ExpiresAt is computed once at issuance
// from tenant security settings and never extended implicitly.
type Session struct {
	ID        string
	UserID    string
	TenantID  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

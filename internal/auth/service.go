package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinigate.org/internal/access"
	"clinigate.org/internal/obs"
)

// Defaults apply when a tenant has no security settings of its own.
type Defaults struct {
	SessionTTL       time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
}

const (
	defaultSessionTTL       = 30 * time.Minute
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
)

func (d Defaults) withFallbacks() Defaults {
	if d.SessionTTL <= 0 {
		d.SessionTTL = defaultSessionTTL
	}
	if d.LockoutThreshold <= 0 {
		d.LockoutThreshold = defaultLockoutThreshold
	}
	if d.LockoutDuration <= 0 {
		d.LockoutDuration = defaultLockoutDuration
	}
	return d
}

// Service runs the authentication flow: lockout accounting, credential
// verification, permission hydration and session issuance.
type Service struct {
	store    Store
	codec    *TokenCodec
	defaults Defaults
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the authentication service.
func NewService(store Store, codec *TokenCodec, defaults Defaults, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: token codec is required", ErrInvalidInput)
	}
	svc := &Service{
		store:    store,
		codec:    codec,
		defaults: defaults.withFallbacks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginResult is a successful authentication outcome.
type LoginResult struct {
	Actor     access.Actor
	Token     string
	ExpiresAt time.Time
}

// Authenticate verifies credentials and issues a session.
//
// The lock check runs before the password comparison so a locked account
// never reveals whether the submitted password would have matched. Wrong
// password, inactive account and unknown email all collapse into the same
// ErrInvalidCredentials. Role hydration and session persistence failures
// are downgraded to non-fatal: they are logged and the login proceeds.
func (s *Service) Authenticate(ctx context.Context, email, password, tenantID string) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" || strings.TrimSpace(tenantID) == "" {
		obs.LoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, tenantID, email)
	if err != nil {
		obs.LoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if user.AccountLockedUntil != nil && user.AccountLockedUntil.After(now) {
		obs.LoginAttempt("locked")
		return LoginResult{}, ErrAccountLocked
	}

	security := s.tenantSecurity(ctx, user.TenantID)

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.recordFailure(ctx, user, security, now)
		obs.LoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		obs.LoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.AccountLockedUntil != nil {
		if err := s.store.Users(ctx).ResetLoginFailures(ctx, user.ID); err != nil {
			obs.LogError("reset login failures failed", err, map[string]any{"user_id": user.ID})
		}
	}

	permissions := s.hydratePermissions(ctx, user)

	departments := user.Departments
	if departments == nil {
		departments = []string{}
	}

	session := &Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		ExpiresAt: now.Add(security.SessionTTL),
		CreatedAt: now,
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		// The in-flight session stays valid; persistence is reconciled later.
		obs.LogError("session persistence failed", err, map[string]any{
			"user_id":    user.ID,
			"session_id": session.ID,
		})
	}

	actor := access.Actor{
		ID:              user.ID,
		Email:           user.Email,
		Role:            access.NormalizeRole(user.Role),
		TenantID:        user.TenantID,
		IsOwner:         user.IsOwner,
		Departments:     departments,
		Permissions:     permissions,
		SessionID:       session.ID,
		PasswordExpired: user.PasswordExpired,
	}

	token, err := s.codec.Issue(actor, session.ExpiresAt)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}

	obs.LoginAttempt("success")
	return LoginResult{Actor: actor, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// hydratePermissions resolves the user's custom role into a permission
// tree. A dangling reference or lookup failure yields nil permissions
// rather than failing the login.
func (s *Service) hydratePermissions(ctx context.Context, user *User) access.PermissionTree {
	if user.CustomRoleID == "" {
		return nil
	}
	role, err := s.store.Roles(ctx).Find(ctx, user.CustomRoleID)
	if err != nil {
		obs.LogError("custom role hydration failed", err, map[string]any{
			"user_id": user.ID,
			"role_id": user.CustomRoleID,
		})
		return nil
	}
	return role.Permissions
}

// recordFailure bumps the failed-attempt counter and arms the lock once
// the tenant's threshold is crossed. Persistence errors here are logged
// and swallowed; the login still fails with the uniform error.
func (s *Service) recordFailure(ctx context.Context, user *User, security SecuritySettings, now time.Time) {
	attempts := user.FailedLoginAttempts + 1
	var lockedUntil *time.Time
	if attempts >= security.LockoutThreshold {
		t := now.Add(security.LockoutDuration)
		lockedUntil = &t
	}
	if err := s.store.Users(ctx).RecordLoginFailure(ctx, user.ID, attempts, lockedUntil); err != nil {
		obs.LogError("record login failure failed", err, map[string]any{"user_id": user.ID})
	}
}

// tenantSecurity loads the tenant's settings, falling back to service
// defaults when the record is missing or incomplete.
func (s *Service) tenantSecurity(ctx context.Context, tenantID string) SecuritySettings {
	out := SecuritySettings{
		SessionTTL:       s.defaults.SessionTTL,
		LockoutThreshold: s.defaults.LockoutThreshold,
		LockoutDuration:  s.defaults.LockoutDuration,
	}
	settings, err := s.store.Tenants(ctx).Security(ctx, tenantID)
	if err != nil || settings == nil {
		return out
	}
	if settings.SessionTTL > 0 {
		out.SessionTTL = settings.SessionTTL
	}
	if settings.LockoutThreshold > 0 {
		out.LockoutThreshold = settings.LockoutThreshold
	}
	if settings.LockoutDuration > 0 {
		out.LockoutDuration = settings.LockoutDuration
	}
	return out
}

// ChangePassword verifies the current password and stores a new hash,
// clearing the password-expired flag.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || next == "" {
		return fmt.Errorf("%w: user_id and new password are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.Users(ctx).UpdatePassword(ctx, userID, hash, false)
}

// AssignmentResult reports the outcome of an idempotent membership change.
type AssignmentResult struct {
	Changed bool
	// Note is "already assigned" or "not assigned" when nothing changed.
	Note string
}

// AssignDepartment adds the user to a department. Assigning twice is not
// an error; the second call reports "already assigned".
func (s *Service) AssignDepartment(ctx context.Context, userID, departmentID string) (AssignmentResult, error) {
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" || departmentID == "" {
		return AssignmentResult{}, fmt.Errorf("%w: user_id and department_id are required", ErrInvalidInput)
	}
	dept, err := s.store.Departments(ctx).Find(ctx, departmentID)
	if err != nil {
		return AssignmentResult{}, err
	}
	if !dept.IsActive {
		return AssignmentResult{}, fmt.Errorf("%w: department %s is inactive", ErrInvalidInput, departmentID)
	}
	changed, err := s.store.Departments(ctx).Assign(ctx, userID, departmentID)
	if err != nil {
		return AssignmentResult{}, err
	}
	if !changed {
		return AssignmentResult{Note: "already assigned"}, nil
	}
	return AssignmentResult{Changed: true}, nil
}

// RemoveDepartment removes the user from a department, idempotently.
func (s *Service) RemoveDepartment(ctx context.Context, userID, departmentID string) (AssignmentResult, error) {
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" || departmentID == "" {
		return AssignmentResult{}, fmt.Errorf("%w: user_id and department_id are required", ErrInvalidInput)
	}
	changed, err := s.store.Departments(ctx).Remove(ctx, userID, departmentID)
	if err != nil {
		return AssignmentResult{}, err
	}
	if !changed {
		return AssignmentResult{Note: "not assigned"}, nil
	}
	return AssignmentResult{Changed: true}, nil
}

// Sessions lists the user's tracked sessions.
func (s *Service) Sessions(ctx context.Context, userID string) ([]Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Sessions(ctx).ListByUser(ctx, userID)
}

// Logout deletes the tracked session record. Missing records are fine.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := s.store.Sessions(ctx).Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// PruneSessions removes sessions that expired before now.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions(ctx).DeleteExpired(ctx, s.now().UTC())
}

package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinigate.org/internal/access"
	"clinigate.org/internal/auth"
)

type userStore Store

var _ auth.UserStore = (*userStore)(nil)

const userColumns = `
	id, tenant_id, email, password_hash, role, is_owner, is_active,
	coalesce(custom_role_id, ''), failed_login_attempts, account_locked_until,
	password_expired, created_at, updated_at`

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select`+userColumns+`
		from users
		where id = $1
	`, id)
	return s.scanUser(ctx, row)
}

func (s *userStore) FindByEmail(ctx context.Context, tenantID, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select`+userColumns+`
		from users
		where tenant_id = $1 and lower(email) = lower($2)
	`, tenantID, email)
	return s.scanUser(ctx, row)
}

func (s *userStore) scanUser(ctx context.Context, row *sql.Row) (*auth.User, error) {
	var (
		u      auth.User
		locked sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Role, &u.IsOwner, &u.IsActive,
		&u.CustomRoleID, &u.FailedLoginAttempts, &locked,
		&u.PasswordExpired, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if locked.Valid {
		t := locked.Time
		u.AccountLockedUntil = &t
	}

	departments, err := (*departmentStore)(s).ListByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	u.Departments = departments
	return &u, nil
}

func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	var locked sql.NullTime
	if lockedUntil != nil {
		locked = sql.NullTime{Time: lockedUntil.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set failed_login_attempts = $2, account_locked_until = $3, updated_at = now()
		where id = $1
	`, userID, attempts, locked)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) ResetLoginFailures(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set failed_login_attempts = 0, account_locked_until = null, updated_at = now()
		where id = $1
	`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string, expired bool) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set password_hash = $2, password_expired = $3, updated_at = now()
		where id = $1
	`, userID, passwordHash, expired)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type roleStore Store

var _ auth.CustomRoleStore = (*roleStore)(nil)

func (s *roleStore) Find(ctx context.Context, id string) (*auth.CustomRole, error) {
	var (
		role auth.CustomRole
		raw  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, permissions, created_at, updated_at
		from custom_roles
		where id = $1
	`, id).Scan(&role.ID, &role.TenantID, &role.Name, &raw, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var tree access.PermissionTree
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
		role.Permissions = tree
	}
	return &role, nil
}

type sessionStore Store

var _ auth.SessionStore = (*sessionStore)(nil)

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, tenant_id, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, sess.ID, sess.UserID, sess.TenantID, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrConflict
	}
	return err
}

func (s *sessionStore) ListByUser(ctx context.Context, userID string) ([]auth.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, tenant_id, expires_at, created_at
		from sessions
		where user_id = $1 and expires_at > now()
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Session
	for rows.Next() {
		var sess auth.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.TenantID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type departmentStore Store

var _ auth.DepartmentStore = (*departmentStore)(nil)

func (s *departmentStore) Find(ctx context.Context, id string) (*auth.Department, error) {
	var d auth.Department
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, is_active
		from departments
		where id = $1
	`, id).Scan(&d.ID, &d.TenantID, &d.Name, &d.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Assign is idempotent: inserting an existing membership is a no-op and
// reports changed=false.
func (s *departmentStore) Assign(ctx context.Context, userID, departmentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into user_departments (user_id, department_id)
		values ($1, $2)
		on conflict (user_id, department_id) do nothing
	`, userID, departmentID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return false, auth.ErrNotFound
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *departmentStore) Remove(ctx context.Context, userID, departmentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from user_departments
		where user_id = $1 and department_id = $2
	`, userID, departmentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *departmentStore) ListByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select department_id
		from user_departments
		where user_id = $1
		order by department_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

type tenantStore Store

var _ auth.TenantStore = (*tenantStore)(nil)

func (s *tenantStore) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	var t auth.Tenant
	err := s.db.QueryRowContext(ctx, `
		select id, name, coalesce(subdomain, ''), created_at, updated_at
		from tenants
		where id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Subdomain, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *tenantStore) Security(ctx context.Context, tenantID string) (*auth.SecuritySettings, error) {
	var (
		ttlSeconds     int64
		threshold      int
		lockoutSeconds int64
	)
	err := s.db.QueryRowContext(ctx, `
		select session_ttl_seconds, lockout_threshold, lockout_duration_seconds
		from tenant_security
		where tenant_id = $1
	`, tenantID).Scan(&ttlSeconds, &threshold, &lockoutSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auth.SecuritySettings{
		SessionTTL:       time.Duration(ttlSeconds) * time.Second,
		LockoutThreshold: threshold,
		LockoutDuration:  time.Duration(lockoutSeconds) * time.Second,
	}, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

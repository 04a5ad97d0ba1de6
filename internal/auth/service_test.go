package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinigate.org/internal/access"
)

func testService(t *testing.T, store Store, opts ...ServiceOption) *Service {
	t.Helper()
	codec, err := NewTokenCodec("test-secret")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	svc, err := NewService(store, codec, Defaults{}, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedUser(t *testing.T, store *MemoryStore, u User, password string) {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u.PasswordHash = hash
	store.PutUser(&u)
}

func TestAuthenticateSuccess(t *testing.T) {
	store := NewMemoryStore()
	store.PutRole(&CustomRole{
		ID:       "role-1",
		TenantID: "t1",
		Name:     "Front desk",
		Permissions: access.PermissionTree{
			access.DomainPatients: {Enabled: true, ViewScope: access.ScopeDepartment},
		},
	})
	seedUser(t, store, User{
		ID:           "u1",
		TenantID:     "t1",
		Email:        "staff@clinic.test",
		Role:         "provider",
		IsActive:     true,
		CustomRoleID: "role-1",
	}, "s3cret-pw")
	store.PutDepartment(&Department{ID: "dept-cardio", TenantID: "t1", Name: "Cardiology", IsActive: true})
	if _, err := store.Departments(context.Background()).Assign(context.Background(), "u1", "dept-cardio"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	svc := testService(t, store)
	res, err := svc.Authenticate(context.Background(), "Staff@clinic.test", "s3cret-pw", "t1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Actor.Role != access.RoleClinicUser {
		t.Fatalf("legacy role not normalized: %q", res.Actor.Role)
	}
	if res.Actor.Departments == nil || len(res.Actor.Departments) != 1 {
		t.Fatalf("departments not hydrated: %v", res.Actor.Departments)
	}
	if res.Actor.Permissions == nil || !res.Actor.Permissions[access.DomainPatients].Enabled {
		t.Fatalf("permissions not hydrated: %+v", res.Actor.Permissions)
	}
	if res.Actor.SessionID == "" || res.Token == "" {
		t.Fatal("session not issued")
	}
	if !res.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry not in the future: %v", res.ExpiresAt)
	}

	sessions, err := svc.Sessions(context.Background(), "u1")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one tracked session, got %v (%v)", sessions, err)
	}
}

func TestAuthenticateUniformFailure(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")
	seedUser(t, store, User{
		ID: "u2", TenantID: "t1", Email: "gone@clinic.test", Role: "clinic_user", IsActive: false,
	}, "right-pw")

	svc := testService(t, store)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "staff@clinic.test", "wrong-pw"},
		{"inactive account", "gone@clinic.test", "right-pw"},
		{"unknown email", "nobody@clinic.test", "right-pw"},
	}
	var messages []string
	for _, tc := range cases {
		_, err := svc.Authenticate(context.Background(), tc.email, tc.password, "t1")
		if err == nil {
			t.Fatalf("%s: expected failure", tc.name)
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", tc.name, err)
		}
		messages = append(messages, err.Error())
	}
	for _, msg := range messages {
		if msg != "Invalid credentials" {
			t.Fatalf("non-uniform failure message: %q", msg)
		}
	}
}

func TestAuthenticateLockout(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")
	store.PutTenant(&Tenant{ID: "t1", Name: "Clinic One"}, &SecuritySettings{
		LockoutThreshold: 3,
		LockoutDuration:  10 * time.Minute,
	})

	svc := testService(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Authenticate(ctx, "staff@clinic.test", "wrong-pw", "t1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The lock is armed; even the correct password must fail with ACCOUNT_LOCKED.
	_, err := svc.Authenticate(ctx, "staff@clinic.test", "right-pw", "t1")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if Code(err) != "ACCOUNT_LOCKED" {
		t.Fatalf("unexpected code: %s", Code(err))
	}
}

func TestAuthenticateLockExpiresAndCounterResets(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")
	store.PutTenant(&Tenant{ID: "t1"}, &SecuritySettings{
		LockoutThreshold: 2,
		LockoutDuration:  10 * time.Minute,
	})

	now := time.Now().UTC()
	svc := testService(t, store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = svc.Authenticate(ctx, "staff@clinic.test", "wrong-pw", "t1")
	}
	if _, err := svc.Authenticate(ctx, "staff@clinic.test", "right-pw", "t1"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock, got %v", err)
	}

	// Past the lock window the correct password succeeds and clears the counter.
	now = now.Add(11 * time.Minute)
	res, err := svc.Authenticate(ctx, "staff@clinic.test", "right-pw", "t1")
	if err != nil {
		t.Fatalf("expected success after lock expiry, got %v", err)
	}
	if res.Actor.ID != "u1" {
		t.Fatalf("unexpected actor: %+v", res.Actor)
	}

	u, err := store.Users(ctx).Find(ctx, "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if u.FailedLoginAttempts != 0 || u.AccountLockedUntil != nil {
		t.Fatalf("counter not reset: attempts=%d locked=%v", u.FailedLoginAttempts, u.AccountLockedUntil)
	}
}

func TestAuthenticateHydrationFailureIsNonFatal(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user",
		IsActive: true, CustomRoleID: "role-dangling",
	}, "right-pw")

	svc := testService(t, store)
	res, err := svc.Authenticate(context.Background(), "staff@clinic.test", "right-pw", "t1")
	if err != nil {
		t.Fatalf("hydration failure must not fail login: %v", err)
	}
	if res.Actor.Permissions != nil {
		t.Fatalf("expected nil permissions, got %+v", res.Actor.Permissions)
	}
	// Downstream evaluation denies everything for the non-owner.
	if access.HasPermission(res.Actor.Permissions, access.EvalContext{IsOwner: res.Actor.IsOwner}, access.Requirement{Domain: access.DomainPatients}) {
		t.Fatal("nil permissions must deny non-owner requirements")
	}
}

func TestAuthenticateNoCustomRoleLeavesPermissionsNil(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")

	svc := testService(t, store)
	res, err := svc.Authenticate(context.Background(), "staff@clinic.test", "right-pw", "t1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Actor.Permissions != nil {
		t.Fatalf("expected nil permissions without a custom role, got %+v", res.Actor.Permissions)
	}
	if res.Actor.Departments == nil {
		t.Fatal("departments must be an empty slice, never nil")
	}
}

func TestAuthenticateSessionTTLFromTenantSettings(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")
	store.PutTenant(&Tenant{ID: "t1"}, &SecuritySettings{SessionTTL: 2 * time.Hour})

	now := time.Now().UTC()
	svc := testService(t, store, WithClock(func() time.Time { return now }))

	res, err := svc.Authenticate(context.Background(), "staff@clinic.test", "right-pw", "t1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := res.ExpiresAt.Sub(now); got != 2*time.Hour {
		t.Fatalf("expected tenant TTL 2h, got %v", got)
	}
}

func TestAuthenticateSessionTTLDefaultFallback(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")

	now := time.Now().UTC()
	svc := testService(t, store, WithClock(func() time.Time { return now }))

	res, err := svc.Authenticate(context.Background(), "staff@clinic.test", "right-pw", "t1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := res.ExpiresAt.Sub(now); got != 30*time.Minute {
		t.Fatalf("expected default TTL 30m, got %v", got)
	}
}

type sessionFailStore struct {
	*MemoryStore
}

type failingSessions struct{ SessionStore }

func (f failingSessions) Create(context.Context, *Session) error {
	return errors.New("session table unavailable")
}

func (s sessionFailStore) Sessions(ctx context.Context) SessionStore {
	return failingSessions{s.MemoryStore.Sessions(ctx)}
}

func TestAuthenticateSessionPersistenceFailureIsNonFatal(t *testing.T) {
	mem := NewMemoryStore()
	seedUser(t, mem, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user", IsActive: true,
	}, "right-pw")

	svc := testService(t, sessionFailStore{mem})
	res, err := svc.Authenticate(context.Background(), "staff@clinic.test", "right-pw", "t1")
	if err != nil {
		t.Fatalf("session persistence failure must not fail login: %v", err)
	}
	if res.Actor.SessionID == "" || res.Token == "" {
		t.Fatal("in-flight session id and token must still be issued")
	}
}

func TestAssignDepartmentIdempotent(t *testing.T) {
	store := NewMemoryStore()
	store.PutDepartment(&Department{ID: "dept-cardio", TenantID: "t1", IsActive: true})
	svc := testService(t, store)
	ctx := context.Background()

	first, err := svc.AssignDepartment(ctx, "u1", "dept-cardio")
	if err != nil || !first.Changed {
		t.Fatalf("first assignment: %+v, %v", first, err)
	}
	second, err := svc.AssignDepartment(ctx, "u1", "dept-cardio")
	if err != nil {
		t.Fatalf("second assignment must not error: %v", err)
	}
	if second.Changed || second.Note != "already assigned" {
		t.Fatalf("expected idempotent no-op, got %+v", second)
	}

	list, err := store.Departments(ctx).ListByUser(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one membership, got %v (%v)", list, err)
	}

	removed, err := svc.RemoveDepartment(ctx, "u1", "dept-cardio")
	if err != nil || !removed.Changed {
		t.Fatalf("removal: %+v, %v", removed, err)
	}
	removedAgain, err := svc.RemoveDepartment(ctx, "u1", "dept-cardio")
	if err != nil || removedAgain.Changed {
		t.Fatalf("second removal must be a no-op: %+v, %v", removedAgain, err)
	}
}

func TestAssignDepartmentRejectsInactive(t *testing.T) {
	store := NewMemoryStore()
	store.PutDepartment(&Department{ID: "dept-old", TenantID: "t1", IsActive: false})
	svc := testService(t, store)

	if _, err := svc.AssignDepartment(context.Background(), "u1", "dept-old"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inactive department, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	store := NewMemoryStore()
	seedUser(t, store, User{
		ID: "u1", TenantID: "t1", Email: "staff@clinic.test", Role: "clinic_user",
		IsActive: true, PasswordExpired: true,
	}, "old-pw")

	svc := testService(t, store)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, "u1", "wrong-pw", "new-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "u1", "old-pw", "new-pw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	res, err := svc.Authenticate(ctx, "staff@clinic.test", "new-pw", "t1")
	if err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if res.Actor.PasswordExpired {
		t.Fatal("password-expired flag must be cleared after rotation")
	}
}

package access

import "strings"

// Role identifies the broad section of the product an actor belongs to.
type Role string

const (
	RoleClinicUser Role = "clinic_user"
	RolePatient    Role = "patient"
	RoleDemo       Role = "demo"
	RoleSuperAdmin Role = "super_admin"
)

// legacyRoles maps role values still present in older account records to
// their canonical replacement. Normalization happens once at the boundary;
// nothing downstream compares against legacy strings.
var legacyRoles = map[string]Role{
	"admin":    RoleClinicUser,
	"provider": RoleClinicUser,
}

// NormalizeRole canonicalizes a stored role value. Unknown values are
// returned as-is so they fail closed in role checks.
func NormalizeRole(raw string) Role {
	v := strings.TrimSpace(strings.ToLower(raw))
	if canonical, ok := legacyRoles[v]; ok {
		return canonical
	}
	return Role(v)
}

// Valid reports whether the role is one of the canonical values.
func (r Role) Valid() bool {
	switch r {
	case RoleClinicUser, RolePatient, RoleDemo, RoleSuperAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

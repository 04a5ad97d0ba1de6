package access

// Actor is an authenticated user as seen by authorization checks. All
// fields come from the session token captured at login; nothing here is
// re-read from a store per request.
type Actor struct {
	ID              string         `json:"id"`
	Email           string         `json:"email"`
	Role            Role           `json:"role"`
	TenantID        string         `json:"tenant_id"`
	IsOwner         bool           `json:"is_owner"`
	Departments     []string       `json:"departments"`
	Permissions     PermissionTree `json:"permissions,omitempty"`
	SessionID       string         `json:"session_id"`
	PasswordExpired bool           `json:"password_expired"`
}

// InDepartment reports set membership over the actor's departments.
func (a Actor) InDepartment(id string) bool {
	if id == "" {
		return false
	}
	for _, d := range a.Departments {
		if d == id {
			return true
		}
	}
	return false
}

// PatientRef is the slice of a patient record that scope filtering needs.
type PatientRef struct {
	ID         string
	TenantID   string
	Department string
}

// AccessDecision is the detail-carrying result of a scope check.
type AccessDecision struct {
	Allowed bool
	Reason  string
}

// CheckPatientAccess decides whether an actor may see a patient record
// under the given view scope.
//
// Tenant isolation is absolute and checked first: a record in a different
// tenant is denied before the owner bypass is even considered. Cheap and
// side-effect-free, so it works as a filter predicate over result sets.
func CheckPatientAccess(actor Actor, patient PatientRef, scope ViewScope) AccessDecision {
	if patient.TenantID != actor.TenantID {
		return AccessDecision{Reason: "patient belongs to a different tenant"}
	}
	if actor.IsOwner {
		return AccessDecision{Allowed: true}
	}
	if scope == ScopeAllClinic {
		return AccessDecision{Allowed: true}
	}
	// Department scope from here on.
	if len(actor.Departments) == 0 {
		return AccessDecision{Reason: "actor has no department assignments"}
	}
	if patient.Department == "" {
		return AccessDecision{Reason: "patient is not assigned to a department"}
	}
	if !actor.InDepartment(patient.Department) {
		return AccessDecision{Reason: "patient department does not match any of the actor's departments"}
	}
	return AccessDecision{Allowed: true}
}

// CanAccessPatient is the boolean wrapper over CheckPatientAccess.
func CanAccessPatient(actor Actor, patient PatientRef, scope ViewScope) bool {
	return CheckPatientAccess(actor, patient, scope).Allowed
}

// FilterPatients returns the subset of patients the actor may see.
func FilterPatients(actor Actor, patients []PatientRef, scope ViewScope) []PatientRef {
	out := make([]PatientRef, 0, len(patients))
	for _, p := range patients {
		if CanAccessPatient(actor, p, scope) {
			out = append(out, p)
		}
	}
	return out
}

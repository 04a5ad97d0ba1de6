package httpapi

import (
	"strings"

	"clinigate.org/internal/access"
)

// Public tenant routes bypass the permission system entirely: landing
// pages, booking, the provider directory and tenant-scoped login.
var publicPaths = []string{
	"/",
	"/login",
	"/logout",
	"/healthz",
	"/readyz",
	"/metrics",
}

var publicPrefixes = []string{
	"/assets/",
	"/book/",
	"/providers/",
	"/site/",
}

func isPublicRoute(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// superadminPrefixes require the super_admin role.
var superadminPrefixes = []string{
	"/superadmin",
	"/api/superadmin",
}

// legacyPrefixes maps deprecated path prefixes to their canonical
// replacement. The remainder of the path and the method are preserved.
var legacyPrefixes = map[string]string{
	"/company":     "/clinic",
	"/api/company": "/api/clinic",
}

// sectionRoles gates whole product sections by role. First matching
// prefix governs.
var sectionRoles = []struct {
	Prefix  string
	Allowed []access.Role
}{
	{"/api/clinic", []access.Role{access.RoleClinicUser, access.RoleSuperAdmin}},
	{"/clinic", []access.Role{access.RoleClinicUser, access.RoleSuperAdmin}},
	{"/api/patient", []access.Role{access.RolePatient}},
	{"/patient", []access.Role{access.RolePatient}},
	{"/demo", []access.Role{access.RoleDemo}},
}

// passwordChangePath is where an expired password gets rotated; requests
// already targeting it (or its API counterpart) are not re-redirected.
const (
	passwordChangePath    = "/clinic/change-password"
	passwordChangeAPIPath = "/api/profile/password"
)

// safeDashboardPath is where actors with no permissions at all are sent
// instead of looping through denials.
const safeDashboardPath = "/clinic/dashboard"

// routePermission binds a path prefix to the permission it requires and a
// human-readable description used in denial messages.
type routePermission struct {
	Prefix      string
	Requirement access.Requirement
	Description string
}

// permissionRoutes is the static classification table, consulted by
// longest prefix. Order within the slice does not matter.
var permissionRoutes = []routePermission{
	{"/clinic/patients", access.Requirement{Domain: access.DomainPatients}, "the patient directory"},
	{"/api/clinic/patients", access.Requirement{Domain: access.DomainPatients}, "the patient directory"},
	{"/clinic/patients/export", access.Requirement{Domain: access.DomainPatients, Feature: "export"}, "patient data export"},
	{"/api/clinic/patients/export", access.Requirement{Domain: access.DomainPatients, Feature: "export"}, "patient data export"},
	{"/clinic/records", access.Requirement{Domain: access.DomainRecords}, "clinical record cards"},
	{"/api/clinic/records", access.Requirement{Domain: access.DomainRecords}, "clinical record cards"},
	{"/clinic/appointments", access.Requirement{Domain: access.DomainAppointments}, "the appointment book"},
	{"/api/clinic/appointments", access.Requirement{Domain: access.DomainAppointments}, "the appointment book"},
	{"/clinic/analytics", access.Requirement{Domain: access.DomainAnalytics, Scope: access.ScopeAllClinic}, "clinic-wide analytics"},
	{"/api/clinic/analytics", access.Requirement{Domain: access.DomainAnalytics, Scope: access.ScopeAllClinic}, "clinic-wide analytics"},
	{"/clinic/billing", access.Requirement{Domain: access.DomainBilling}, "billing and invoices"},
	{"/api/clinic/billing", access.Requirement{Domain: access.DomainBilling}, "billing and invoices"},
	{"/clinic/staff", access.Requirement{Domain: access.DomainStaff}, "staff management"},
	{"/api/clinic/staff", access.Requirement{Domain: access.DomainStaff}, "staff management"},
	{"/clinic/settings", access.Requirement{Domain: access.DomainSettings}, "clinic settings"},
	{"/api/clinic/settings", access.Requirement{Domain: access.DomainSettings}, "clinic settings"},
	{"/clinic/website", access.Requirement{Domain: access.DomainWebsite}, "the website builder"},
	{"/api/clinic/website", access.Requirement{Domain: access.DomainWebsite}, "the website builder"},
}

// matchPermissionRoute returns the most specific table entry for the
// path, if any.
func matchPermissionRoute(path string) (routePermission, bool) {
	var best routePermission
	found := false
	for _, rp := range permissionRoutes {
		if !strings.HasPrefix(path, rp.Prefix) {
			continue
		}
		if !found || len(rp.Prefix) > len(best.Prefix) {
			best = rp
			found = true
		}
	}
	return best, found
}

// isAPIPath decides between redirect and JSON error responses.
func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

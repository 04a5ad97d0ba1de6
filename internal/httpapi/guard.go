package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clinigate.org/internal/access"
	"clinigate.org/internal/audit"
	"clinigate.org/internal/auth"
	"clinigate.org/internal/obs"
)

const (
	sessionCookieName = "cg_session"
	graceCookieName   = "cg_grace"

	defaultGracePeriod = 10 * time.Minute
)

// Guard intercepts every inbound request and allows, denies or redirects
// it based on the session token alone. It never touches a data store; the
// only I/O it performs is the detached audit write.
type Guard struct {
	codec *auth.TokenCodec
	audit *audit.Logger
	grace time.Duration
	now   func() time.Time
}

// NewGuard builds the route guard.
func NewGuard(codec *auth.TokenCodec, auditLog *audit.Logger, grace time.Duration) *Guard {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &Guard{codec: codec, audit: auditLog, grace: grace, now: time.Now}
}

// Middleware runs the guard's rules in priority order; the first matching
// rule governs.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// 1. Public tenant routes skip the permission system entirely.
		if isPublicRoute(path) {
			next.ServeHTTP(w, r)
			return
		}

		complianceHeaders(w)

		// 2. Grace period: right after login the session cookie may not
		// have propagated yet. The marker has its own expiry and is
		// ignored the moment a real token is present.
		token := extractToken(r)
		if token == "" {
			if g.graceActive(r) {
				obs.GuardDecision("grace", "allow")
				next.ServeHTTP(w, r)
				return
			}
			g.unauthenticated(w, r, "authentication required")
			return
		}

		actor, err := g.codec.Parse(token)
		if err != nil {
			g.unauthenticated(w, r, "session is invalid or has expired")
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actor)
		ctx = auth.ContextWithToken(ctx, token)
		r = r.WithContext(ctx)

		// 3. Superadmin paths.
		if matchesAnyPrefix(path, superadminPrefixes) {
			if actor.Role != access.RoleSuperAdmin {
				g.logDecision(r, actor, "guard.superadmin", false, audit.SeverityWarning, map[string]any{"path": path})
				obs.GuardDecision("superadmin", "deny")
				g.forbidden(w, r, "superadmin access required", "FORBIDDEN")
				return
			}
			g.logDecision(r, actor, "guard.superadmin", true, audit.SeverityInfo, map[string]any{"path": path})
			obs.GuardDecision("superadmin", "allow")
			next.ServeHTTP(w, r)
			return
		}

		// 4. Legacy path aliasing.
		for prefix, replacement := range legacyPrefixes {
			if path != prefix && !strings.HasPrefix(path, prefix+"/") {
				continue
			}
			target := replacement + strings.TrimPrefix(path, prefix)
			if q := r.URL.RawQuery; q != "" {
				target += "?" + q
			}
			g.logDecision(r, actor, "guard.legacy_redirect", true, audit.SeverityInfo, map[string]any{
				"from": path,
				"to":   target,
			})
			obs.GuardDecision("legacy", "redirect")
			// 308 keeps the method for API calls under the old prefix.
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}

		// 5. Role-gated sections.
		sectionMatched := false
		for _, sec := range sectionRoles {
			if !strings.HasPrefix(path, sec.Prefix) {
				continue
			}
			sectionMatched = true
			if !roleAllowed(actor.Role, sec.Allowed) {
				g.logDecision(r, actor, "guard.section", false, audit.SeverityWarning, map[string]any{
					"path":    path,
					"section": sec.Prefix,
					"role":    actor.Role.String(),
				})
				obs.GuardDecision("section", "deny")
				g.forbidden(w, r, "this area is not available for your account", "FORBIDDEN")
				return
			}
			break
		}

		// 6. Forced password rotation.
		if actor.PasswordExpired && path != passwordChangePath && path != passwordChangeAPIPath {
			g.logDecision(r, actor, "guard.password_rotation", false, audit.SeverityInfo, map[string]any{"path": path})
			obs.GuardDecision("password_rotation", "redirect")
			if isAPIPath(path) {
				writeErrorCode(w, r, http.StatusForbidden, "password change required", "PASSWORD_EXPIRED")
				return
			}
			http.Redirect(w, r, passwordChangePath, http.StatusFound)
			return
		}

		// 7. Permission-gated routes.
		if rp, ok := matchPermissionRoute(path); ok {
			if actor.Role == access.RoleSuperAdmin {
				g.logDecision(r, actor, "guard.permission", true, audit.SeverityInfo, map[string]any{
					"path":   path,
					"domain": rp.Requirement.Domain,
					"exempt": "superadmin",
				})
				obs.GuardDecision("permission", "allow")
				next.ServeHTTP(w, r)
				return
			}
			if actor.Permissions == nil && !actor.IsOwner {
				// No permissions at all: send to the safe dashboard with
				// setup instructions instead of looping through denials.
				g.logDecision(r, actor, "guard.permission", false, audit.SeverityWarning, map[string]any{
					"path":   path,
					"domain": rp.Requirement.Domain,
					"reason": "no permissions assigned",
				})
				obs.GuardDecision("permission", "deny")
				msg := "Your account has no permissions assigned yet. Ask your clinic administrator to set up your role."
				if isAPIPath(path) {
					writeErrorCode(w, r, http.StatusForbidden, msg, "NO_PERMISSIONS")
					return
				}
				http.Redirect(w, r, safeDashboardPath+"?message="+url.QueryEscape(msg), http.StatusFound)
				return
			}
			decision := access.Evaluate(actor.Permissions, access.EvalContext{IsOwner: actor.IsOwner}, rp.Requirement)
			if !decision.Granted {
				g.logDecision(r, actor, "guard.permission", false, audit.SeverityWarning, map[string]any{
					"path":   path,
					"domain": rp.Requirement.Domain,
					"reason": decision.Reason,
				})
				obs.GuardDecision("permission", "deny")
				msg := fmt.Sprintf("You do not have access to %s: %s", rp.Description, decision.Reason)
				if isAPIPath(path) {
					writeErrorCode(w, r, http.StatusForbidden, msg, "FORBIDDEN")
					return
				}
				http.Redirect(w, r, safeDashboardPath+"?error="+url.QueryEscape(msg), http.StatusFound)
				return
			}
			g.logDecision(r, actor, "guard.permission", true, audit.SeverityInfo, map[string]any{
				"path":   path,
				"domain": rp.Requirement.Domain,
			})
			obs.GuardDecision("permission", "allow")
			next.ServeHTTP(w, r)
			return
		}

		if sectionMatched {
			g.logDecision(r, actor, "guard.section", true, audit.SeverityInfo, map[string]any{"path": path})
			obs.GuardDecision("section", "allow")
		}

		// 8. Default: pass through with compliance headers already set.
		next.ServeHTTP(w, r)
	})
}

// logDecision writes one audit entry for a guard branch. The write is
// detached; its failure never fails the request.
func (g *Guard) logDecision(r *http.Request, actor access.Actor, action string, success bool, severity audit.Severity, details map[string]any) {
	if g.audit == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		details["request_id"] = rid
	}
	g.audit.Log(r.Context(), audit.Entry{
		Action:     action,
		Resource:   "route",
		ResourceID: r.URL.Path,
		TenantID:   actor.TenantID,
		UserID:     actor.ID,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
		Details:    details,
		Success:    success,
		Severity:   severity,
	})
}

func (g *Guard) unauthenticated(w http.ResponseWriter, r *http.Request, msg string) {
	obs.GuardDecision("auth", "deny")
	if isAPIPath(r.URL.Path) {
		writeErrorCode(w, r, http.StatusUnauthorized, msg, "UNAUTHENTICATED")
		return
	}
	http.Redirect(w, r, "/login?error="+url.QueryEscape(msg), http.StatusFound)
}

func (g *Guard) forbidden(w http.ResponseWriter, r *http.Request, msg, code string) {
	if isAPIPath(r.URL.Path) {
		writeErrorCode(w, r, http.StatusForbidden, msg, code)
		return
	}
	http.Redirect(w, r, "/login?error="+url.QueryEscape(msg), http.StatusFound)
}

// graceActive reports whether a valid just-authenticated marker is
// present. The marker carries its own issuance time; it expires on its
// own schedule regardless of the session's expiry.
func (g *Guard) graceActive(r *http.Request) bool {
	c, err := r.Cookie(graceCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	issued, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		return false
	}
	now := g.now().UTC()
	issuedAt := time.Unix(issued, 0).UTC()
	if issuedAt.After(now.Add(5 * time.Second)) {
		return false
	}
	return now.Sub(issuedAt) < g.grace
}

// extractToken resolves the session token from the cookie or, for API
// clients, the Authorization header.
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const bearer = "Bearer "
	if len(header) > len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
		return strings.TrimSpace(header[len(bearer):])
	}
	return ""
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func roleAllowed(role access.Role, allowed []access.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// complianceHeaders hardens every protected response.
func complianceHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
}

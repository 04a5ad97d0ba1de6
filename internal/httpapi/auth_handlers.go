package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"clinigate.org/internal/audit"
	"clinigate.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TenantID == "" {
		req.TenantID = r.Header.Get("X-Tenant-ID")
	}

	res, err := a.auth.Authenticate(r.Context(), req.Email, req.Password, req.TenantID)
	if err != nil {
		a.auditLogin(r, req.Email, req.TenantID, false, err)
		handleAuthError(w, r, err)
		return
	}

	now := a.guard.now()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	// Grace cookie carries the issuance time so the guard can let a user
	// with an expired password reach the rotation page briefly.
	http.SetCookie(w, &http.Cookie{
		Name:     graceCookieName,
		Value:    strconv.FormatInt(now.Unix(), 10),
		Path:     "/",
		Expires:  now.Add(a.grace),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	a.auditLogin(r, req.Email, req.TenantID, true, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"token":            res.Token,
		"expires_at":       res.ExpiresAt,
		"user":             res.Actor,
		"password_expired": res.Actor.PasswordExpired,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
		return
	}

	// Best effort: revoke the server-side session when the token still
	// parses. The cookies are cleared either way.
	if token := extractToken(r); token != "" {
		if actor, err := a.codec.Parse(token); err == nil && actor.SessionID != "" {
			if err := a.auth.Logout(r.Context(), actor.SessionID); err != nil {
				writeError(w, r, http.StatusInternalServerError, "logout failed")
				return
			}
			if a.audit != nil {
				a.audit.Log(r.Context(), audit.Entry{
					Action:     "auth.logout",
					Resource:   "session",
					ResourceID: actor.SessionID,
					TenantID:   actor.TenantID,
					UserID:     actor.ID,
					IPAddress:  clientIP(r),
					UserAgent:  r.UserAgent(),
					Success:    true,
					Severity:   audit.SeverityInfo,
				})
			}
		}
	}

	clearCookie(w, r, sessionCookieName)
	clearCookie(w, r, graceCookieName)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.auth.ChangePassword(r.Context(), actor.ID, req.CurrentPassword, req.NewPassword)
	if a.audit != nil {
		a.audit.Log(r.Context(), audit.Entry{
			Action:     "auth.password_change",
			Resource:   "user",
			ResourceID: actor.ID,
			TenantID:   actor.TenantID,
			UserID:     actor.ID,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
			Success:    err == nil,
			Severity:   passwordChangeSeverity(err),
		})
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeErrorCode(w, r, http.StatusUnauthorized, "Current password is incorrect", "INVALID_CREDENTIALS")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func passwordChangeSeverity(err error) audit.Severity {
	if err != nil {
		return audit.SeverityWarning
	}
	return audit.SeverityInfo
}

func (a *API) auditLogin(r *http.Request, email, tenantID string, success bool, cause error) {
	if a.audit == nil {
		return
	}
	entry := audit.Entry{
		Action:    "auth.login",
		Resource:  "session",
		TenantID:  tenantID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Details:   map[string]any{"email": email},
		Success:   success,
		Severity:  audit.SeverityInfo,
	}
	if !success {
		entry.Severity = audit.SeverityWarning
		entry.Details["code"] = auth.Code(cause)
	}
	a.audit.Log(r.Context(), entry)
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
}

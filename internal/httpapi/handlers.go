package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"clinigate.org/internal/access"
	"clinigate.org/internal/audit"
	"clinigate.org/internal/auth"
	"clinigate.org/internal/obs"
)

// ReadyProbe checks downstream readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// PatientDirectory is the collaborator that lists patient records for a
// tenant. Scope filtering happens here in the handler, not in the store.
type PatientDirectory interface {
	ListByTenant(ctx context.Context, tenantID string) ([]access.PatientRef, error)
}

// Options tunes the HTTP layer.
type Options struct {
	Version         string
	GracePeriod     time.Duration
	LoginRateBurst  int
	LoginRatePerSec int
}

// API is the HTTP layer: handlers plus the guard and middleware chain.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	codec      *auth.TokenCodec
	audit      *audit.Logger
	guard      *Guard
	patients   PatientDirectory
	readyProbe ReadyProbe
	version    string
	grace      time.Duration

	rateBurst  int
	ratePerSec int
}

// New wires routes and the guard together.
func New(rp ReadyProbe, authSvc *auth.Service, codec *auth.TokenCodec, auditLog *audit.Logger, patients PatientDirectory, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		codec:      codec,
		audit:      auditLog,
		patients:   patients,
		readyProbe: rp,
		version:    opts.Version,
		grace:      opts.GracePeriod,
		rateBurst:  opts.LoginRateBurst,
		ratePerSec: opts.LoginRatePerSec,
	}
	if a.grace <= 0 {
		a.grace = defaultGracePeriod
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	a.guard = NewGuard(codec, auditLog, a.grace)

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/login", RateLimit(http.HandlerFunc(a.handleLogin), a.rateBurst, a.ratePerSec))
	a.mux.HandleFunc("/logout", a.handleLogout)

	a.mux.HandleFunc(passwordChangeAPIPath, a.handlePasswordChange)
	a.mux.HandleFunc("/api/clinic/patients", a.handleListPatients)
	a.mux.HandleFunc("/api/clinic/departments/assign", a.handleAssignDepartment)
	a.mux.HandleFunc("/api/clinic/departments/remove", a.handleRemoveDepartment)
	a.mux.HandleFunc("/api/profile/sessions", a.handleListSessions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.guard.Middleware(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Service handlers ---

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clinigate-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- Patient listing (scope-filtered) ---

type patientResponse struct {
	ID         string `json:"id"`
	Department string `json:"department,omitempty"`
}

func (a *API) handleListPatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}
	if a.patients == nil {
		writeError(w, r, http.StatusServiceUnavailable, "patient directory unavailable")
		return
	}
	records, err := a.patients.ListByTenant(r.Context(), actor.TenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// The guard already verified domain access; the node's view scope
	// decides how wide the listing is.
	scope := access.ScopeDepartment
	if node, ok := actor.Permissions[access.DomainPatients]; ok && node.ViewScope != "" {
		scope = node.ViewScope
	}
	visible := access.FilterPatients(actor, records, scope)

	out := make([]patientResponse, 0, len(visible))
	for _, p := range visible {
		out = append(out, patientResponse{ID: p.ID, Department: p.Department})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"scope": string(scope),
	})
}

// --- Department membership ---

type departmentRequest struct {
	UserID       string `json:"user_id"`
	DepartmentID string `json:"department_id"`
}

func (a *API) handleAssignDepartment(w http.ResponseWriter, r *http.Request) {
	a.handleMembershipChange(w, r, "auth.department.assign", a.auth.AssignDepartment)
}

func (a *API) handleRemoveDepartment(w http.ResponseWriter, r *http.Request) {
	a.handleMembershipChange(w, r, "auth.department.remove", a.auth.RemoveDepartment)
}

func (a *API) handleMembershipChange(w http.ResponseWriter, r *http.Request, action string, op func(context.Context, string, string) (auth.AssignmentResult, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}
	var req departmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := op(r.Context(), req.UserID, req.DepartmentID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if a.audit != nil {
		a.audit.Log(r.Context(), audit.Entry{
			Action:     action,
			Resource:   "department",
			ResourceID: req.DepartmentID,
			TenantID:   actor.TenantID,
			UserID:     actor.ID,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
			Details:    map[string]any{"target_user": req.UserID, "changed": res.Changed},
			Success:    true,
			Severity:   audit.SeverityInfo,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": res.Changed,
		"note":    res.Note,
	})
}

// --- Sessions ---

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
		return
	}
	sessions, err := a.auth.Sessions(r.Context(), actor.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	type sessionResponse struct {
		ID        string    `json:"id"`
		ExpiresAt time.Time `json:"expires_at"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{ID: s.ID, ExpiresAt: s.ExpiresAt, CreatedAt: s.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeErrorCode is the structured denial shape the guard produces for
// API paths: error, human message, machine code.
func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	payload := map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
		"code":    code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource conflict")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeErrorCode(w, r, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error(), auth.Code(err))
	case errors.Is(err, auth.ErrAccountLocked):
		writeErrorCode(w, r, http.StatusUnauthorized, "Account is temporarily locked. Try again later.", auth.Code(err))
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

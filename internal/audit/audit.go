// Package audit records every authorization decision as an append-only
// side effect. Writes are dispatched off the request path and their
// failure never propagates to the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"clinigate.org/internal/ids"
	"clinigate.org/internal/obs"
)

// Severity grades an entry for operational triage.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is one append-only audit record. Entries are never mutated after
// being handed to Log.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
	Success    bool           `json:"success"`
	Severity   Severity       `json:"severity"`
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
}

// Logger dispatches audit entries to a store without blocking the caller.
type Logger struct {
	store Store
	now   func() time.Time
	wg    sync.WaitGroup
}

// New builds a logger over the given store.
func New(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

// Log assigns the entry an id and timestamp and dispatches the write on a
// detached goroutine. The returned id is usable immediately; whether the
// write ultimately succeeds is deliberately not observable here. A failed
// write is logged and counted, nothing more.
func (l *Logger) Log(ctx context.Context, e Entry) string {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	// Detach from the request's cancellation: the response must not wait
	// for, or be failed by, this write.
	bg := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				obs.AuditWriteFailure()
				obs.LogError("audit append panicked", nil, map[string]any{"panic": r, "entry_id": e.ID})
			}
		}()
		if err := l.store.Append(bg, &e); err != nil {
			obs.AuditWriteFailure()
			obs.LogError("audit append failed", err, map[string]any{
				"entry_id": e.ID,
				"action":   e.Action,
			})
		}
	}()
	return e.ID
}

// Wait blocks until all dispatched writes have settled. Used in tests and
// during graceful shutdown.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// LogStore writes entries as JSON lines through the shared service
// logger. It backs the audit trail when no database is configured.
type LogStore struct{}

func (LogStore) Append(_ context.Context, e *Entry) error {
	obs.LogRequest(map[string]any{
		"ts":          e.Timestamp.Format(time.RFC3339Nano),
		"type":        "audit",
		"id":          e.ID,
		"action":      e.Action,
		"resource":    e.Resource,
		"resource_id": e.ResourceID,
		"tenant_id":   e.TenantID,
		"user_id":     e.UserID,
		"ip":          e.IPAddress,
		"success":     e.Success,
		"severity":    string(e.Severity),
		"details":     e.Details,
	})
	return nil
}

// MemoryStore collects entries in memory for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryStore) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

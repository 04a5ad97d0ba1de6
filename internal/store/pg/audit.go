package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"clinigate.org/internal/audit"
)

// Audit returns the audit trail store backed by the same pool. Entries
// are insert-only; nothing in the application updates or deletes them.
func (s *Store) Audit() audit.Store { return (*auditStore)(s) }

type auditStore Store

var _ audit.Store = (*auditStore)(nil)

func (s *auditStore) Append(ctx context.Context, e *audit.Entry) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (
			id, action, resource, resource_id, tenant_id, user_id,
			ip_address, user_agent, occurred_at, details, success, severity
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		e.ID, e.Action, e.Resource, nullIfEmpty(e.ResourceID), nullIfEmpty(e.TenantID),
		nullIfEmpty(e.UserID), nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent),
		e.Timestamp.UTC(), details, e.Success, string(e.Severity),
	)
	return err
}

package pg

import (
	"context"

	"clinigate.org/internal/access"
)

// ListByTenant returns the tenant's patient roster. Rows come back
// already restricted to one tenant; view-scope filtering happens in the
// caller against the actor's departments.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]access.PatientRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, coalesce(department_id, '')
		from patients
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.PatientRef
	for rows.Next() {
		var p access.PatientRef
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Department); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

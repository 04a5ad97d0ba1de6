package access

import (
	"encoding/json"
	"fmt"
)

// ViewScope describes how far an actor's visibility reaches inside a
// feature domain.
type ViewScope string

const (
	// ScopeDepartment restricts visibility to the actor's own departments.
	ScopeDepartment ViewScope = "department"
	// ScopeAllClinic grants tenant-wide visibility.
	ScopeAllClinic ViewScope = "all_clinic"
)

// Satisfies reports whether the scope held by a feature node covers the
// required scope. all_clinic covers everything; department covers only a
// department requirement.
func (s ViewScope) Satisfies(required ViewScope) bool {
	if required == "" {
		return true
	}
	if s == ScopeAllClinic {
		return true
	}
	return s == required
}

// Feature domains recognized by the permission tree. Keys outside this set
// are treated as no access.
const (
	DomainPatients     = "patients"
	DomainAppointments = "appointments"
	DomainRecords      = "records"
	DomainAnalytics    = "analytics"
	DomainBilling      = "billing"
	DomainStaff        = "staff"
	DomainSettings     = "settings"
	DomainWebsite      = "website"
)

// Domains enumerates every known feature domain.
var Domains = []string{
	DomainPatients,
	DomainAppointments,
	DomainRecords,
	DomainAnalytics,
	DomainBilling,
	DomainStaff,
	DomainSettings,
	DomainWebsite,
}

// FeatureFlag is a nested feature switch. Stored trees carry either a bare
// boolean or an object with an "enabled" field; both decode into this type.
type FeatureFlag struct {
	Enabled bool `json:"enabled"`
}

func (f *FeatureFlag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.Enabled = b
		return nil
	}
	var obj struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("feature flag: %w", err)
	}
	f.Enabled = obj.Enabled
	return nil
}

func (f FeatureFlag) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Enabled bool `json:"enabled"`
	}{Enabled: f.Enabled})
}

// FeatureNode is one domain entry in a permission tree. A disabled node
// denies every nested feature regardless of their individual flags.
type FeatureNode struct {
	Enabled   bool                   `json:"enabled"`
	ViewScope ViewScope              `json:"viewScope,omitempty"`
	Features  map[string]FeatureFlag `json:"features,omitempty"`
}

// PermissionTree maps feature domain names to their nodes. A nil tree
// means the actor has no permissions assigned.
type PermissionTree map[string]FeatureNode

// Requirement names what a caller needs: a domain, optionally a nested
// feature, optionally a minimum view scope.
type Requirement struct {
	Domain  string
	Feature string
	Scope   ViewScope
}

// EvalContext carries the actor-level facts the evaluator needs beyond the
// tree itself. Passed explicitly on every call; there is no ambient state.
type EvalContext struct {
	IsOwner bool
}

// Decision is the detail-carrying evaluation result. Reason is empty when
// access is granted.
type Decision struct {
	Granted bool
	Reason  string
}

// Evaluate answers whether an actor holding the given tree may perform the
// required action. Pure and deterministic; safe to call per request.
//
// Order of checks: owner short-circuit, tree presence, domain enabled,
// feature flag, view scope.
func Evaluate(tree PermissionTree, ctx EvalContext, req Requirement) Decision {
	if ctx.IsOwner {
		return Decision{Granted: true}
	}
	if tree == nil {
		return Decision{Reason: "no permissions assigned"}
	}
	node, ok := tree[req.Domain]
	if !ok || !node.Enabled {
		return Decision{Reason: fmt.Sprintf("domain %q disabled", req.Domain)}
	}
	if req.Feature != "" {
		flag, ok := node.Features[req.Feature]
		if !ok || !flag.Enabled {
			return Decision{Reason: fmt.Sprintf("feature %q not enabled in domain %q", req.Feature, req.Domain)}
		}
	}
	if req.Scope != "" && !node.ViewScope.Satisfies(req.Scope) {
		return Decision{Reason: fmt.Sprintf("domain %q requires %q scope, actor has %q", req.Domain, req.Scope, node.ViewScope)}
	}
	return Decision{Granted: true}
}

// HasPermission is the boolean wrapper over Evaluate for callers that do
// not need a denial reason.
func HasPermission(tree PermissionTree, ctx EvalContext, req Requirement) bool {
	return Evaluate(tree, ctx, req).Granted
}

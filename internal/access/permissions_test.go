package access

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleTree() PermissionTree {
	return PermissionTree{
		DomainPatients: {
			Enabled:   true,
			ViewScope: ScopeDepartment,
			Features: map[string]FeatureFlag{
				"view_records": {Enabled: true},
				"export":       {Enabled: false},
			},
		},
		DomainBilling: {
			Enabled: false,
			Features: map[string]FeatureFlag{
				"invoices": {Enabled: true},
			},
		},
		DomainAnalytics: {
			Enabled:   true,
			ViewScope: ScopeAllClinic,
		},
	}
}

func TestEvaluateOwnerShortCircuit(t *testing.T) {
	trees := []PermissionTree{nil, {}, sampleTree()}
	for _, tree := range trees {
		d := Evaluate(tree, EvalContext{IsOwner: true}, Requirement{Domain: DomainBilling, Feature: "invoices", Scope: ScopeAllClinic})
		if !d.Granted {
			t.Fatalf("owner must always be granted, got %+v", d)
		}
	}
}

func TestEvaluateNilTreeDenies(t *testing.T) {
	d := Evaluate(nil, EvalContext{}, Requirement{Domain: DomainPatients})
	if d.Granted {
		t.Fatal("nil tree must deny non-owners")
	}
	if !strings.Contains(d.Reason, "no permissions assigned") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestEvaluateDomainGate(t *testing.T) {
	tree := sampleTree()

	if d := Evaluate(tree, EvalContext{}, Requirement{Domain: "unknown_domain"}); d.Granted {
		t.Fatal("unknown domain must deny")
	}

	// Disabled domain denies every nested feature, even individually enabled ones.
	d := Evaluate(tree, EvalContext{}, Requirement{Domain: DomainBilling, Feature: "invoices"})
	if d.Granted {
		t.Fatal("disabled domain must deny nested features")
	}
	if !strings.Contains(d.Reason, "disabled") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestEvaluateFeatureWalk(t *testing.T) {
	tree := sampleTree()

	if d := Evaluate(tree, EvalContext{}, Requirement{Domain: DomainPatients, Feature: "view_records"}); !d.Granted {
		t.Fatalf("enabled feature denied: %q", d.Reason)
	}
	if d := Evaluate(tree, EvalContext{}, Requirement{Domain: DomainPatients, Feature: "export"}); d.Granted {
		t.Fatal("disabled feature must deny")
	}
	if d := Evaluate(tree, EvalContext{}, Requirement{Domain: DomainPatients, Feature: "missing"}); d.Granted {
		t.Fatal("absent feature must deny")
	}
}

func TestEvaluateViewScope(t *testing.T) {
	tree := sampleTree()

	cases := []struct {
		name   string
		domain string
		scope  ViewScope
		want   bool
	}{
		{"department satisfies department", DomainPatients, ScopeDepartment, true},
		{"department does not satisfy all_clinic", DomainPatients, ScopeAllClinic, false},
		{"all_clinic satisfies department", DomainAnalytics, ScopeDepartment, true},
		{"all_clinic satisfies all_clinic", DomainAnalytics, ScopeAllClinic, true},
	}
	for _, tc := range cases {
		d := Evaluate(tree, EvalContext{}, Requirement{Domain: tc.domain, Scope: tc.scope})
		if d.Granted != tc.want {
			t.Fatalf("%s: got %v (reason %q), want %v", tc.name, d.Granted, d.Reason, tc.want)
		}
	}
}

func TestHasPermissionMatchesEvaluate(t *testing.T) {
	tree := sampleTree()
	req := Requirement{Domain: DomainPatients, Feature: "view_records"}
	if HasPermission(tree, EvalContext{}, req) != Evaluate(tree, EvalContext{}, req).Granted {
		t.Fatal("wrapper disagrees with Evaluate")
	}
}

func TestFeatureFlagDecodesBothShapes(t *testing.T) {
	raw := `{
		"patients": {
			"enabled": true,
			"viewScope": "department",
			"features": {
				"view_records": true,
				"export": {"enabled": false},
				"schedule": {"enabled": true}
			}
		}
	}`
	var tree PermissionTree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	node := tree[DomainPatients]
	if !node.Features["view_records"].Enabled {
		t.Fatal("bare boolean true not decoded as enabled")
	}
	if node.Features["export"].Enabled {
		t.Fatal("object false decoded as enabled")
	}
	if !node.Features["schedule"].Enabled {
		t.Fatal("object true not decoded as enabled")
	}
	if node.ViewScope != ScopeDepartment {
		t.Fatalf("unexpected view scope: %q", node.ViewScope)
	}
}

func TestNormalizeRoleLegacyAliases(t *testing.T) {
	cases := map[string]Role{
		"admin":       RoleClinicUser,
		"Provider":    RoleClinicUser,
		"clinic_user": RoleClinicUser,
		"patient":     RolePatient,
		"demo":        RoleDemo,
		"super_admin": RoleSuperAdmin,
		" SUPER_ADMIN ": RoleSuperAdmin,
	}
	for raw, want := range cases {
		if got := NormalizeRole(raw); got != want {
			t.Fatalf("NormalizeRole(%q)=%q, want %q", raw, got, want)
		}
	}
	if NormalizeRole("intruder").Valid() {
		t.Fatal("unknown role must not be valid")
	}
}

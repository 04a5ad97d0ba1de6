package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/api/patients/abc123":          "/api/patients/:id",
		"/api/patients/abc123/records":  "/api/patients/abc123/records",
		"/api/departments/dept-cardio":  "/api/departments/:id",
		"/api/sessions/s-1?active=true": "/api/sessions/:id",
		"/login":                        "/login",
		"/admin/analytics?from=2024":    "/admin/analytics",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

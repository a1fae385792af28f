package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/entity/create":          "/entity/create",
		"/entity/lobster-1":       "/entity/:id",
		"/entity/lobster-1/extra": "/entity/lobster-1/extra",
		"/entities":               "/entities",
		"/entities?type=lobster":  "/entities",
		"/auth/challenge":         "/auth/challenge",
		"/auth/session":           "/auth/session",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

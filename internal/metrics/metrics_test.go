package metrics

import "testing"

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/api/v1/plan", "/api/v1/plan"},
		{"/api/v1/catalogs", "/api/v1/catalogs"},
		{"/api/v1/cache", "/api/v1/cache"},

		// Parameterized routes collapse to one label each.
		{"/cache/ab12cd34ef56/M31_ab12cd34ef56.jpg", "/cache/{fingerprint}/{file}"},
		{"/cache/000000000000/NGC_7000_000000000000.jpg", "/cache/{fingerprint}/{file}"},
		{"/api/v1/cache/ab12cd34ef56", "/api/v1/cache/{fingerprint}"},
		{"/api/v1/cache/deadbeef0123", "/api/v1/cache/{fingerprint}"},

		// Unknown/bot paths collapse to "other".
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v2/something", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that many distinct fingerprints produce
// exactly one distinct path label, not one per fingerprint.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute("/cache/" + string(rune('a'+i%26)) + "b12cd34ef56/img.jpg")
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

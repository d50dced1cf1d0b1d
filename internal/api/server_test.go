package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stone17/my-sky-observer/internal/auth"
	"github.com/stone17/my-sky-observer/internal/catalog"
	"github.com/stone17/my-sky-observer/internal/fetcher"
	"github.com/stone17/my-sky-observer/internal/imagecache"
	"github.com/stone17/my-sky-observer/internal/stream"
	"github.com/stone17/my-sky-observer/internal/survey"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type noSource struct{}

func (noSource) FetchImage(ctx context.Context, raDeg, decDeg, fovDeg float64) ([]byte, error) {
	return nil, io.ErrUnexpectedEOF
}

// newTestServer builds a Server with a populated cache directory.
func newTestServer(t *testing.T, authCfg auth.Config) (*Server, *imagecache.Cache) {
	t.Helper()
	logger := testLogger()

	catalogDir := t.TempDir()
	data := "id,ra,dec,mag,maj_ax\nM13,250.42,36.46,5.8,20\n"
	if err := os.WriteFile(filepath.Join(catalogDir, "messier.csv"), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	store := catalog.NewStore(catalogDir, logger)

	cache := imagecache.New(t.TempDir(), noSource{}, imagecache.DefaultTargetMean, logger)
	pool := fetcher.New(cache, 5, logger)
	imaging := survey.Config{Survey: "dss2r", ResolutionPx: 512, Padding: 1.5}
	planHandler := stream.NewHandler(store, cache, pool, imaging, stream.Config{}, logger)

	return NewServer("127.0.0.1:0", planHandler, store, cache, logger, authCfg), cache
}

// seedCacheFile plants one image file directly in the cache layout.
func seedCacheFile(t *testing.T, cache *imagecache.Cache, fingerprint, name string) string {
	t.Helper()
	dir := filepath.Join(cache.Dir(), fingerprint)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("jpegbytes"), 0644); err != nil {
		t.Fatal(err)
	}
	return "/cache/" + fingerprint + "/" + name
}

func do(t *testing.T, s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.HTTPServer().Handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, auth.Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		if w := do(t, s, "GET", path, nil); w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestCatalogsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, auth.Config{})

	w := do(t, s, "GET", "/api/v1/catalogs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Catalogs []string `json:"catalogs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Catalogs) != 1 || resp.Catalogs[0] != "messier" {
		t.Errorf("catalogs = %v, want [messier]", resp.Catalogs)
	}
}

func TestCacheFileServing(t *testing.T) {
	s, cache := newTestServer(t, auth.Config{})
	url := seedCacheFile(t, cache, "ab12cd34ef56", "M13_ab12cd34ef56.jpg")

	w := do(t, s, "GET", url, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=31536000, immutable" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if w.Body.String() != "jpegbytes" {
		t.Errorf("body = %q", w.Body.String())
	}

	// Missing file is a JSON 404.
	w = do(t, s, "GET", "/cache/ab12cd34ef56/unknown.jpg", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("missing file Content-Type = %q", ct)
	}
}

func TestCacheFileTraversalRejected(t *testing.T) {
	s, _ := newTestServer(t, auth.Config{})

	for _, target := range []string{
		"/cache/../secrets/x.jpg",
		"/cache/fp/..",
		"/cache/%2e%2e/x.jpg",
	} {
		w := do(t, s, "GET", target, nil)
		if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want rejection", target, w.Code)
		}
	}
}

func TestCachePurgeEndpoints(t *testing.T) {
	s, cache := newTestServer(t, auth.Config{})
	seedCacheFile(t, cache, "ab12cd34ef56", "M13_ab12cd34ef56.jpg")
	seedCacheFile(t, cache, "ff00ff00ff00", "M57_ff00ff00ff00.jpg")

	w := do(t, s, "DELETE", "/api/v1/cache/ab12cd34ef56", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("purge status = %d, want 200", w.Code)
	}
	if _, err := os.Stat(filepath.Join(cache.Dir(), "ab12cd34ef56")); !os.IsNotExist(err) {
		t.Error("purged partition still on disk")
	}
	if _, err := os.Stat(filepath.Join(cache.Dir(), "ff00ff00ff00")); err != nil {
		t.Error("unrelated partition was removed")
	}

	// Invalid fingerprint rejected.
	if w = do(t, s, "DELETE", "/api/v1/cache/..", nil); w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Errorf("invalid purge status = %d, want rejection", w.Code)
	}

	// Full purge.
	if w = do(t, s, "DELETE", "/api/v1/cache", nil); w.Code != http.StatusOK {
		t.Fatalf("purge all status = %d, want 200", w.Code)
	}
	if _, err := os.Stat(filepath.Join(cache.Dir(), "ff00ff00ff00")); !os.IsNotExist(err) {
		t.Error("purge all left partitions behind")
	}
}

func TestAuthEnforcement(t *testing.T) {
	s, cache := newTestServer(t, auth.Config{Enabled: true, Token: "secret"})
	url := seedCacheFile(t, cache, "ab12cd34ef56", "M13_ab12cd34ef56.jpg")

	// Protected without a token.
	if w := do(t, s, "DELETE", "/api/v1/cache", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated purge status = %d, want 401", w.Code)
	}

	// Accepted with the token.
	h := http.Header{"Authorization": []string{"Bearer secret"}}
	if w := do(t, s, "DELETE", "/api/v1/cache", h); w.Code != http.StatusOK {
		t.Errorf("authenticated purge status = %d, want 200", w.Code)
	}

	// Exempt paths stay public: probes, catalogs and image files.
	for _, path := range []string{"/healthz", "/readyz", "/api/v1/catalogs", url} {
		if w := do(t, s, "GET", path, nil); w.Code != http.StatusOK {
			t.Errorf("exempt %s status = %d, want 200", path, w.Code)
		}
	}
}

func TestPlanRouteWired(t *testing.T) {
	s, _ := newTestServer(t, auth.Config{})

	// Invalid plan query surfaces the stream handler's 400, proving the
	// route is wired through the middleware chain.
	w := do(t, s, "GET", "/api/v1/plan", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("plan status = %d, want 400", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, auth.Config{})
	if w := do(t, s, "GET", "/api/v1/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

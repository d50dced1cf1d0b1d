// Package survey fetches reference sky images from the NASA SkyView
// cutout service.
package survey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/stone17/my-sky-observer/internal/metrics"
)

const (
	defaultBaseURL = "https://skyview.gsfc.nasa.gov/current/cgi/runquery.pl"

	// SkyView falls over on tiny cutouts; never request below a quarter
	// degree, and pad so framing errors do not crop the target.
	minRequestFOVDeg = 0.25

	// The service occasionally misbehaves and returns multi-hundred-MB
	// responses. Cap reads well above any sane JPEG.
	maxImageBytes = 50 << 20
)

// ErrNotImage reports a 200 response whose body is not an image. SkyView
// returns HTML error pages with status 200, so the Content-Type is the only
// reliable signal.
var ErrNotImage = errors.New("survey returned a non-image response")

// Config holds the imaging parameters of a Client. The same values feed the
// cache fingerprint, so any change lands in a fresh cache partition.
type Config struct {
	BaseURL      string
	Survey       string
	ResolutionPx int
	Padding      float64
}

// Client downloads survey cutouts for sky positions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client, filling unset config fields with defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Survey == "" {
		cfg.Survey = "dss2r"
	}
	if cfg.ResolutionPx <= 0 {
		cfg.ResolutionPx = 512
	}
	if cfg.Padding <= 0 {
		cfg.Padding = 1.5
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Params returns the effective imaging parameters after defaulting.
func (c *Client) Params() Config {
	return c.cfg
}

// FetchImage downloads the cutout for a position. fovDeg is the width of the
// target's field of view; the request is padded and floored per config.
func (c *Client) FetchImage(ctx context.Context, raDeg, decDeg, fovDeg float64) ([]byte, error) {
	sizeDeg := math.Max(fovDeg, minRequestFOVDeg) * c.cfg.Padding
	url := fmt.Sprintf("%s?Survey=%s&Position=%.5f,%.5f&Size=%.4f&Pixels=%d&Return=JPG",
		c.cfg.BaseURL, c.cfg.Survey, raDeg, decDeg, sizeDeg, c.cfg.ResolutionPx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncImageDownloads(downloadResult(ctx))
		return nil, fmt.Errorf("fetching survey image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncImageDownloads("error")
		return nil, fmt.Errorf("unexpected status code %d from survey", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		metrics.IncImageDownloads("error")
		return nil, fmt.Errorf("content type %q: %w", ct, ErrNotImage)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		metrics.IncImageDownloads(downloadResult(ctx))
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxImageBytes {
		metrics.IncImageDownloads("error")
		return nil, fmt.Errorf("response exceeds %d bytes", maxImageBytes)
	}

	metrics.IncImageDownloads("ok")
	c.logger.Debug("survey image downloaded", "ra", raDeg, "dec", decDeg, "size_deg", sizeDeg, "bytes", len(body))
	return body, nil
}

// downloadResult distinguishes caller cancellation from genuine failures in
// the download metric.
func downloadResult(ctx context.Context) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	return "error"
}

// Package stream implements the Server-Sent Events plan stream. A single
// GET /api/v1/plan request receives the whole night plan as a sequence of
// named JSON frames:
//
//	event: total            once, ranked object count
//	event: twilight_info    once, tonight's twilight windows
//	event: catalog_metadata once, lightweight records for the full ranked list
//	event: object_details   per top candidate, curves and cache status
//	event: image_status     per download state change
//	event: download_progress per completed download, monotonic
//	event: close            once, terminal
//
// A client disconnect at any point ends the stream quietly; an unexpected
// failure emits one error frame instead of dropping the connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/stone17/my-sky-observer/internal/astro"
	"github.com/stone17/my-sky-observer/internal/catalog"
	"github.com/stone17/my-sky-observer/internal/fetcher"
	"github.com/stone17/my-sky-observer/internal/httputil"
	"github.com/stone17/my-sky-observer/internal/imagecache"
	"github.com/stone17/my-sky-observer/internal/metrics"
	"github.com/stone17/my-sky-observer/internal/ranker"
	"github.com/stone17/my-sky-observer/internal/survey"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int  // Max concurrent plan streams per IP (default: 4).
	CurvePoints        int  // Samples per altitude curve (default: 48).
	FrameSamples       int  // Samples in the shared ranking frame (default: 60).
	TrustProxy         bool // Trust X-Forwarded-For for client IPs.
}

// Handler orchestrates plan streams.
type Handler struct {
	store   *catalog.Store
	cache   *imagecache.Cache
	pool    *fetcher.Pool
	imaging survey.Config
	config  Config
	limiter *planLimiter
	logger  *slog.Logger
}

// NewHandler creates a plan stream handler. imaging must be the survey
// client's effective parameters so cache fingerprints match what the
// download phase writes.
func NewHandler(store *catalog.Store, cache *imagecache.Cache, pool *fetcher.Pool, imaging survey.Config, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 4
	}
	if config.CurvePoints <= 0 {
		config.CurvePoints = 48
	}
	if config.FrameSamples <= 0 {
		config.FrameSamples = 60
	}
	return &Handler{
		store:   store,
		cache:   cache,
		pool:    pool,
		imaging: imaging,
		config:  config,
		limiter: newPlanLimiter(config.MaxConcurrentPerIP),
		logger:  logger,
	}
}

// HandlePlan serves GET /api/v1/plan.
func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	req, err := parsePlanRequest(r.URL.Query())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorPayload{Error: err.Error()})
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.logger.Warn("plan stream limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(errorPayload{Error: "too many concurrent streams"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.limiter.release(ip)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(errorPayload{Error: "streaming not supported"})
		return
	}

	metrics.StreamStarted()
	startTime := time.Now()
	outcome := "completed"
	h.logger.Info("plan stream connected",
		"remote_ip", ip,
		"catalogs", req.Catalogs,
		"download", string(req.Download),
	)
	defer func() {
		h.limiter.release(ip)
		metrics.StreamEnded(outcome)
		h.logger.Info("plan stream finished",
			"remote_ip", ip,
			"outcome", outcome,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default write timeout for this long-lived response;
	// per-write deadlines are set on each frame instead.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, flusher: flusher, rc: rc, logger: h.logger}

	// Jittered retry interval so a restart does not trigger a synchronized
	// reconnection storm.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	err = h.run(r.Context(), c, req)
	switch {
	case r.Context().Err() != nil:
		// Disconnected client; nothing to send and not an error.
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
		h.logger.Error("plan stream failed", "remote_ip", ip, "error", err)
		c.send(eventError, errorPayload{Error: err.Error()})
	}
}

// run executes the plan phases against a connected client. Send failures
// are returned but treated as disconnects by the caller when the request
// context is already cancelled.
func (h *Handler) run(ctx context.Context, c *client, req planRequest) error {
	objects := h.store.GetObjects(req.Catalogs)
	if len(objects) == 0 {
		return c.sendRaw(eventClose, []byte("No objects found"))
	}

	fov := astro.ComputeFieldOfView(req.Setup)
	fitting := objects[:0:0]
	for _, o := range objects {
		if ranker.FitsFOV(o, fov) {
			fitting = append(fitting, o)
		}
	}

	session := astro.ObservingSession(req.Location, time.Now())
	windows := astro.ComputeTwilightWindows(req.Location, session.Start)

	// Visibility hours count dark time only, so the ranking frame spans the
	// night window rather than the padded session. Altitude curves below
	// still cover the whole session.
	dark := nightBounds(windows, session)
	frame := astro.NewFrame(req.Location, dark.Start, dark.End, h.config.FrameSamples)
	preferred := req.Catalogs[0]
	ranked := ranker.Rank(fitting, frame, dark.DurationHours(), req.Visibility.MinAltitudeDeg, preferred, req.SortFields)

	if err := c.send(eventTotal, len(ranked)); err != nil {
		return err
	}
	if err := c.send(eventTwilightInfo, windows); err != nil {
		return err
	}
	if err := c.send(eventCatalogMetadata, metadataEntries(ranked)); err != nil {
		return err
	}

	candidates := ranker.Filter(ranked, req.Visibility)
	top := candidates
	if len(top) > req.Limit {
		top = top[:req.Limit]
	}

	params := imagecache.Params{
		FOVWidthDeg:  fov.WidthDeg(),
		FOVHeightDeg: fov.HeightDeg(),
		Padding:      h.imaging.Padding,
		ResolutionPx: h.imaging.ResolutionPx,
		Survey:       h.imaging.Survey,
	}
	fingerprint := params.Fingerprint()
	rect := h.fovRect(fov)

	// Details phase: curves and cache status per top candidate, with a
	// cancellation check before each object.
	var queued []ranker.Ranked
	for _, obj := range top {
		if ctx.Err() != nil {
			return nil
		}

		target, moon := astro.AltitudeCurve(obj.RADeg, obj.DecDeg, req.Location, session.Start, session.End, h.config.CurvePoints)

		details := objectDetails{
			Name:          obj.ID,
			RADeg:         obj.RADeg,
			DecDeg:        obj.DecDeg,
			Catalog:       obj.Catalog,
			Size:          obj.SizeString(),
			AltitudeGraph: target,
			MoonGraph:     moon,
			FOVRectangle:  rect,
			HoursAboveMin: obj.HoursVisible,
			MajorAxis:     obj.MajorAxisArcmin,
			Magnitude:     obj.Magnitude,
			Fingerprint:   fingerprint,
			Status:        "queued",
		}
		if img, ok := h.cache.Lookup(fingerprint, obj.ID); ok {
			details.ImageURL = img.URL
			details.Status = "cached"
		} else {
			queued = append(queued, obj)
		}

		if err := c.send(eventObjectDetails, details); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	// Download phase: the pool handles cache hits by short-circuiting, so
	// the wider modes just hand over more candidates.
	var toFetch []ranker.Ranked
	switch req.Download {
	case downloadFiltered:
		toFetch = candidates
	case downloadAll:
		toFetch = ranked
	default:
		toFetch = queued
	}

	downloadFOV := math.Max(fov.WidthDeg(), fov.HeightDeg())
	events := h.pool.Fetch(ctx, fingerprint, downloadFOV, toCandidates(toFetch))
	for ev := range events {
		var err error
		switch {
		case ev.Status != nil:
			err = c.send(eventImageStatus, ev.Status)
		case ev.Progress != nil:
			err = c.send(eventDownloadProgress, ev.Progress)
		}
		if err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return c.sendRaw(eventClose, []byte("Stream complete"))
}

// nightBounds returns the interval visibility hours are counted over: the
// astronomical-darkness window when one exists, otherwise the whole session
// (high latitudes in summer may never reach full darkness).
func nightBounds(windows astro.TwilightWindows, session astro.Session) astro.Session {
	if night, ok := windows.Find("night"); ok {
		return astro.Session{Start: night.Start, End: night.End}
	}
	return session
}

// fovRect computes the sensor coverage of the padded download field.
func (h *Handler) fovRect(fov astro.FieldOfView) fovRectangle {
	largest := math.Max(fov.WidthDeg(), fov.HeightDeg())
	download := math.Max(largest, 0.25) * h.imaging.Padding
	return fovRectangle{
		WidthPercent:  fov.WidthDeg() / download * 100.0,
		HeightPercent: fov.HeightDeg() / download * 100.0,
	}
}

func metadataEntries(ranked []ranker.Ranked) []metadataEntry {
	entries := make([]metadataEntry, len(ranked))
	for i, obj := range ranked {
		entries[i] = metadataEntry{
			ID:              obj.ID,
			CommonName:      obj.CommonName,
			Type:            obj.Type,
			Constellation:   obj.Constellation,
			RADeg:           obj.RADeg,
			DecDeg:          obj.DecDeg,
			Magnitude:       obj.Magnitude,
			MajorAxisArcmin: obj.MajorAxisArcmin,
			Catalog:         obj.Catalog,
			MaxAltitudeDeg:  obj.MaxAltitudeDeg,
			HoursVisible:    obj.HoursVisible,
			Status:          "pending",
		}
	}
	return entries
}

func toCandidates(objs []ranker.Ranked) []fetcher.Candidate {
	out := make([]fetcher.Candidate, len(objs))
	for i, o := range objs {
		out[i] = fetcher.Candidate{ID: o.ID, RADeg: o.RADeg, DecDeg: o.DecDeg}
	}
	return out
}

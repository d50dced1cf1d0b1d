// Package fetcher runs the concurrency-limited download pool that fills the
// image cache for a plan's candidate objects.
package fetcher

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stone17/my-sky-observer/internal/imagecache"
)

// DefaultMaxConcurrent caps in-flight downloads per plan stream.
const DefaultMaxConcurrent = 5

// Status of one object's image over the lifetime of a fetch task.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCached      Status = "cached"
	StatusError       Status = "error"
)

// Candidate identifies one object needing an image.
type Candidate struct {
	ID     string
	RADeg  float64
	DecDeg float64
}

// ImageStatus is emitted when an object's image changes state.
type ImageStatus struct {
	ObjectID string `json:"id"`
	Status   Status `json:"status"`
	URL      string `json:"url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Progress is the monotonic (completed, total) counter. It advances after
// every task outcome, success or failure.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Event is one pool outcome: exactly one of the fields is set.
type Event struct {
	Status   *ImageStatus
	Progress *Progress
}

// ImageStore is the cache edge the pool writes through. Implemented by
// imagecache.Cache.
type ImageStore interface {
	FetchOrGet(ctx context.Context, fingerprint, objectID string, raDeg, decDeg, fovDeg float64) (imagecache.CachedImage, error)
}

// Pool fetches candidate images with bounded parallelism. Per-object
// failures are isolated: an error marks that object and advances progress,
// it never cancels sibling tasks.
type Pool struct {
	store         ImageStore
	maxConcurrent int
	logger        *slog.Logger
}

// New creates a Pool writing through store with the given concurrency cap.
func New(store ImageStore, maxConcurrent int, logger *slog.Logger) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Pool{
		store:         store,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Fetch starts one task per candidate, gated to maxConcurrent in flight, and
// returns the event channel. The channel is buffered for every possible
// emission so a slow consumer never stalls the pool, and is closed once all
// tasks have finished. Cancelling ctx stops new emissions; tasks already in
// flight run to completion against the cache.
func (p *Pool) Fetch(ctx context.Context, fingerprint string, fovDeg float64, candidates []Candidate) <-chan Event {
	// Three emissions per task: downloading, outcome, progress.
	events := make(chan Event, 3*len(candidates))
	total := len(candidates)

	go func() {
		defer close(events)

		var (
			mu        sync.Mutex
			completed int
		)

		g := new(errgroup.Group)
		g.SetLimit(p.maxConcurrent)

		for _, cand := range candidates {
			cand := cand
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}

				emit(ctx, events, Event{Status: &ImageStatus{ObjectID: cand.ID, Status: StatusDownloading}})

				img, err := p.store.FetchOrGet(ctx, fingerprint, cand.ID, cand.RADeg, cand.DecDeg, fovDeg)
				if err != nil {
					p.logger.Warn("image fetch failed", "object", cand.ID, "error", err)
					emit(ctx, events, Event{Status: &ImageStatus{ObjectID: cand.ID, Status: StatusError, Message: err.Error()}})
				} else {
					emit(ctx, events, Event{Status: &ImageStatus{ObjectID: cand.ID, Status: StatusCached, URL: img.URL}})
				}

				// Increment and emit under the same lock so progress tuples
				// reach the channel in counter order. The buffered channel
				// makes the send non-blocking, so holding mu here is cheap.
				mu.Lock()
				completed++
				emit(ctx, events, Event{Progress: &Progress{Completed: completed, Total: total}})
				mu.Unlock()
				return nil
			})
		}

		g.Wait()
	}()

	return events
}

// emit sends unless the consumer is gone. The channel is buffered for the
// worst case, so the ctx branch only matters after cancellation.
func emit(ctx context.Context, ch chan<- Event, e Event) {
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}

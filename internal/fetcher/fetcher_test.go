package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stone17/my-sky-observer/internal/imagecache"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// trackingStore records peak concurrency and fails selected objects.
type trackingStore struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	failIDs  map[string]bool
	delay    time.Duration
}

func (s *trackingStore) FetchOrGet(ctx context.Context, fingerprint, objectID string, raDeg, decDeg, fovDeg float64) (imagecache.CachedImage, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	s.mu.Lock()
	if n > s.peak {
		s.peak = n
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failIDs[objectID] {
		return imagecache.CachedImage{}, errors.New("upstream exploded")
	}
	return imagecache.CachedImage{
		Fingerprint: fingerprint,
		ObjectID:    objectID,
		URL:         fmt.Sprintf("/cache/%s/%s_%s.jpg", fingerprint, objectID, fingerprint),
	}, nil
}

func candidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{ID: fmt.Sprintf("OBJ%02d", i), RADeg: float64(i), DecDeg: 40}
	}
	return out
}

// TestPoolConcurrencyCeiling: with 20 slow tasks and a cap of 5, the store
// never sees more than 5 in flight.
func TestPoolConcurrencyCeiling(t *testing.T) {
	store := &trackingStore{delay: 20 * time.Millisecond}
	pool := New(store, 5, testLogger)

	events := pool.Fetch(context.Background(), "fp0000000001", 1.0, candidates(20))
	for range events {
	}

	if store.peak > 5 {
		t.Errorf("peak concurrency = %d, want <= 5", store.peak)
	}
	if store.peak < 2 {
		t.Errorf("peak concurrency = %d, pool did not parallelize", store.peak)
	}
}

// TestPoolProgressMonotonic: progress tuples strictly increase and finish at
// (total, total) even when some objects fail.
func TestPoolProgressMonotonic(t *testing.T) {
	store := &trackingStore{failIDs: map[string]bool{"OBJ03": true, "OBJ07": true}}
	pool := New(store, 5, testLogger)

	var progress []Progress
	statuses := map[Status]int{}
	for ev := range pool.Fetch(context.Background(), "fp0000000001", 1.0, candidates(10)) {
		if ev.Progress != nil {
			progress = append(progress, *ev.Progress)
		}
		if ev.Status != nil {
			statuses[ev.Status.Status]++
		}
	}

	if len(progress) != 10 {
		t.Fatalf("progress events = %d, want 10", len(progress))
	}
	last := 0
	for _, p := range progress {
		if p.Completed <= last {
			t.Errorf("progress went %d -> %d, must strictly increase", last, p.Completed)
		}
		if p.Total != 10 {
			t.Errorf("total = %d, want 10", p.Total)
		}
		last = p.Completed
	}
	if last != 10 {
		t.Errorf("final completed = %d, want 10", last)
	}

	if statuses[StatusDownloading] != 10 || statuses[StatusCached] != 8 || statuses[StatusError] != 2 {
		t.Errorf("status counts = %v", statuses)
	}
}

// TestPoolProgressOrderUnderContention: with many instant-return tasks the
// scheduler interleaves workers aggressively; a counter read outside the
// emission critical section would let a descheduled worker publish a stale
// tuple after later ones. Repeat to widen the window.
func TestPoolProgressOrderUnderContention(t *testing.T) {
	const total = 300
	for iter := 0; iter < 50; iter++ {
		pool := New(&trackingStore{}, 8, testLogger)

		last := 0
		for ev := range pool.Fetch(context.Background(), "fp0000000001", 1.0, candidates(total)) {
			if ev.Progress == nil {
				continue
			}
			if ev.Progress.Completed <= last {
				t.Fatalf("iter %d: progress went backwards: %d after %d", iter, ev.Progress.Completed, last)
			}
			last = ev.Progress.Completed
		}
		if last != total {
			t.Fatalf("iter %d: final completed = %d, want %d", iter, last, total)
		}
	}
}

// TestPoolFailureIsolated: a failing object gets an error status with a
// message; its siblings still cache.
func TestPoolFailureIsolated(t *testing.T) {
	store := &trackingStore{failIDs: map[string]bool{"OBJ01": true}}
	pool := New(store, 5, testLogger)

	var failed, cached []string
	for ev := range pool.Fetch(context.Background(), "fp0000000001", 1.0, candidates(3)) {
		if ev.Status == nil {
			continue
		}
		switch ev.Status.Status {
		case StatusError:
			failed = append(failed, ev.Status.ObjectID)
			if ev.Status.Message == "" {
				t.Error("error status without message")
			}
		case StatusCached:
			cached = append(cached, ev.Status.ObjectID)
			if ev.Status.URL == "" {
				t.Error("cached status without URL")
			}
		}
	}

	if len(failed) != 1 || failed[0] != "OBJ01" {
		t.Errorf("failed = %v, want [OBJ01]", failed)
	}
	if len(cached) != 2 {
		t.Errorf("cached = %v, want the two healthy objects", cached)
	}
}

// TestPoolChannelCloses: the channel closes after all tasks finish, without
// needing a consumer to drain first (buffer covers every emission).
func TestPoolChannelCloses(t *testing.T) {
	pool := New(&trackingStore{}, 5, testLogger)
	events := pool.Fetch(context.Background(), "fp0000000001", 1.0, candidates(4))

	deadline := time.After(2 * time.Second)
	count := 0
	for {
		select {
		case _, ok := <-events:
			if !ok {
				if count != 12 {
					t.Errorf("events = %d, want 12 (3 per candidate)", count)
				}
				return
			}
			count++
		case <-deadline:
			t.Fatal("channel never closed")
		}
	}
}

// TestPoolCancelledContext: cancellation before dispatch yields no events.
func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := New(&trackingStore{}, 5, testLogger)
	count := 0
	for range pool.Fetch(ctx, "fp0000000001", 1.0, candidates(8)) {
		count++
	}
	if count != 0 {
		t.Errorf("events after pre-cancelled context = %d, want 0", count)
	}
}

// TestPoolEmptyCandidates degenerates cleanly.
func TestPoolEmptyCandidates(t *testing.T) {
	pool := New(&trackingStore{}, 0, testLogger)
	for range pool.Fetch(context.Background(), "fp0000000001", 1.0, nil) {
		t.Error("unexpected event for empty candidate list")
	}
}

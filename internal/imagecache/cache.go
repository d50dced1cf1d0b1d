// Package imagecache is the content-addressed on-disk store for reference
// sky images. Files live in one directory per setup fingerprint and are
// immutable once written: an existing file is authoritative and is returned
// without any upstream call. Writes go to a temp file and are renamed into
// place so a partially written image is never served.
package imagecache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stone17/my-sky-observer/internal/metrics"
)

// Source fetches raw image bytes for a sky position. Implemented by the
// survey client; faked in tests.
type Source interface {
	FetchImage(ctx context.Context, raDeg, decDeg, fovDeg float64) ([]byte, error)
}

// CachedImage describes one stored image.
type CachedImage struct {
	Fingerprint string
	ObjectID    string
	FilePath    string
	URL         string
}

// Cache stores post-processed images under dir, one subdirectory per
// fingerprint. Safe for concurrent use: paths are deterministic and
// collision-free, and a racing duplicate fetch resolves by atomic rename
// (both writers produce identical content for identical inputs).
type Cache struct {
	dir        string
	source     Source
	targetMean float64
	logger     *slog.Logger
}

// New creates a Cache rooted at dir, fetching misses through source and
// post-processing with the given stretch target mean.
func New(dir string, source Source, targetMean float64, logger *slog.Logger) *Cache {
	if targetMean <= 0 || targetMean >= 255 {
		targetMean = DefaultTargetMean
	}
	return &Cache{
		dir:        dir,
		source:     source,
		targetMean: targetMean,
		logger:     logger,
	}
}

// entry builds the deterministic location for a (fingerprint, objectID) pair.
func (c *Cache) entry(fingerprint, objectID string) CachedImage {
	name := fmt.Sprintf("%s_%s.jpg", SanitizeID(objectID), fingerprint)
	return CachedImage{
		Fingerprint: fingerprint,
		ObjectID:    objectID,
		FilePath:    filepath.Join(c.dir, fingerprint, name),
		URL:         fmt.Sprintf("/cache/%s/%s", fingerprint, name),
	}
}

// Lookup returns the cached image for the pair if its file exists.
func (c *Cache) Lookup(fingerprint, objectID string) (CachedImage, bool) {
	e := c.entry(fingerprint, objectID)
	if _, err := os.Stat(e.FilePath); err != nil {
		metrics.IncImageCacheMisses()
		return CachedImage{}, false
	}
	metrics.IncImageCacheHits()
	return e, true
}

// FetchOrGet returns the cached image for the pair, fetching, processing and
// persisting it on a miss. An existing file short-circuits before any
// network call; a fetch or processing failure leaves no cache entry behind.
func (c *Cache) FetchOrGet(ctx context.Context, fingerprint, objectID string, raDeg, decDeg, fovDeg float64) (CachedImage, error) {
	if e, ok := c.Lookup(fingerprint, objectID); ok {
		return e, nil
	}
	e := c.entry(fingerprint, objectID)

	raw, err := c.source.FetchImage(ctx, raDeg, decDeg, fovDeg)
	if err != nil {
		return CachedImage{}, fmt.Errorf("fetching image for %s: %w", objectID, err)
	}

	processed, err := AutoStretch(raw, c.targetMean)
	if err != nil {
		// Never cache the unprocessed bytes of a failed stretch; a corrupt
		// or undecodable payload must not become an authoritative entry.
		return CachedImage{}, fmt.Errorf("processing image for %s: %w", objectID, err)
	}

	if err := c.writeAtomic(e.FilePath, processed); err != nil {
		return CachedImage{}, fmt.Errorf("persisting image for %s: %w", objectID, err)
	}

	metrics.IncImageCacheWrites()
	c.logger.Debug("image cached", "object", objectID, "fingerprint", fingerprint, "bytes", len(processed))
	return e, nil
}

// writeAtomic writes data to a temp file in the target partition and renames
// it into place. The partition directory is created lazily.
func (c *Cache) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating partition dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing file: %w", err)
	}
	return nil
}

// Purge removes one fingerprint partition and everything in it.
func (c *Cache) Purge(fingerprint string) error {
	if fingerprint == "" || fingerprint != SanitizeID(fingerprint) {
		return fmt.Errorf("invalid fingerprint %q", fingerprint)
	}
	if err := os.RemoveAll(filepath.Join(c.dir, fingerprint)); err != nil {
		return fmt.Errorf("purging partition %s: %w", fingerprint, err)
	}
	metrics.IncImageCachePurges()
	c.logger.Info("cache partition purged", "fingerprint", fingerprint)
	return nil
}

// PurgeAll removes every partition in the store.
func (c *Cache) PurgeAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing cache dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("purging partition %s: %w", e.Name(), err)
		}
	}
	metrics.IncImageCachePurges()
	c.logger.Info("cache purged", "dir", c.dir)
	return nil
}

// Dir returns the cache root, used by the HTTP file server.
func (c *Cache) Dir() string {
	return c.dir
}

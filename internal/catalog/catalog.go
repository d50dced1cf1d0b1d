// Package catalog loads deep-sky object catalogs from CSV files and serves
// merged, deduplicated object lists. Catalogs are parsed once and held in an
// explicit in-memory cache owned by the Store; unavailable or malformed
// sources are skipped with a warning so one bad file never takes down a
// planning request.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/stone17/my-sky-observer/internal/metrics"
)

// Object is one astronomical object as read from a catalog source.
// RA/dec are in degrees, sizes in arcminutes.
type Object struct {
	ID              string  `json:"id"`
	CommonName      string  `json:"common_name,omitempty"`
	OtherID         string  `json:"other_id,omitempty"`
	Type            string  `json:"type,omitempty"`
	Constellation   string  `json:"constellation,omitempty"`
	RADeg           float64 `json:"ra"`
	DecDeg          float64 `json:"dec"`
	Magnitude       float64 `json:"mag"`
	MajorAxisArcmin float64 `json:"maj_ax"`
	MinorAxisArcmin float64 `json:"min_ax"`
	Catalog         string  `json:"catalog"`
}

// SizeString formats the object's angular size the way clients display it,
// e.g. "6.4' x 4.0'" or "6.4'".
func (o Object) SizeString() string {
	s := fmt.Sprintf("%g'", o.MajorAxisArcmin)
	if o.MinorAxisArcmin > 0 {
		s += fmt.Sprintf(" x %g'", o.MinorAxisArcmin)
	}
	return s
}

// Defaults applied when a numeric column is missing or unparseable. Rows are
// kept in the ranking with safe values rather than silently dropped.
const (
	defaultCoordinate = 0.0
	defaultMagnitude  = 99.0
)

// Store loads catalogs from a directory of {name}.csv files and caches the
// parsed result per catalog name.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]Object
}

// NewStore creates a Store reading from dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		cache:  make(map[string][]Object),
	}
}

// Catalogs lists the catalog names available in the store directory.
func (s *Store) Catalogs() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("listing catalog dir failed", "dir", s.dir, "error", err)
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".csv"))
	}
	return names
}

// GetObjects merges the named catalogs into one object list, tagging each
// object with its uppercased catalog name. Unavailable or malformed sources
// are skipped with a warning. Objects are deduplicated by ID, first
// occurrence wins.
func (s *Store) GetObjects(names []string) []Object {
	var merged []Object
	seen := make(map[string]bool)

	for _, name := range names {
		objs, err := s.get(name)
		if err != nil {
			s.logger.Warn("skipping unavailable catalog", "catalog", name, "error", err)
			continue
		}
		tag := strings.ToUpper(name)
		for _, o := range objs {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			o.Catalog = tag
			merged = append(merged, o)
		}
		s.logger.Debug("catalog merged", "catalog", name, "objects", len(objs))
	}
	return merged
}

// get returns the parsed catalog, loading and caching it on first use.
func (s *Store) get(name string) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if objs, ok := s.cache[name]; ok {
		return objs, nil
	}

	path := filepath.Join(s.dir, name+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()

	objs, err := parse(f, s.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", name, err)
	}

	s.cache[name] = objs
	metrics.SetCatalogObjects(name, len(objs))
	s.logger.Info("catalog loaded", "catalog", name, "objects", len(objs))
	return objs, nil
}

// requiredColumns must be present in the header for a catalog to be usable.
var requiredColumns = []string{"id", "ra", "dec", "maj_ax"}

// parse reads catalog CSV from r. The header row maps column names to
// positions, so column order does not matter. Rows without an id are skipped
// with a warning; missing or unparseable numeric fields coerce to safe
// defaults (0 for coordinates and sizes, 99 for magnitude) so partial rows
// stay in the ranking.
func parse(r io.Reader, logger *slog.Logger) ([]Object, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, req := range requiredColumns {
		if _, ok := col[req]; !ok {
			return nil, fmt.Errorf("missing required column %q", req)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	number := func(row []string, name string, def float64) float64 {
		v, err := strconv.ParseFloat(field(row, name), 64)
		if err != nil {
			return def
		}
		return v
	}

	var objs []Object
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn("skipping malformed catalog row", "line", line, "error", err)
			continue
		}

		id := field(row, "id")
		if id == "" {
			logger.Warn("skipping catalog row without id", "line", line)
			continue
		}

		objs = append(objs, Object{
			ID:              id,
			CommonName:      field(row, "common_name"),
			OtherID:         field(row, "other_id"),
			Type:            field(row, "type"),
			Constellation:   field(row, "constellation"),
			RADeg:           number(row, "ra", defaultCoordinate),
			DecDeg:          number(row, "dec", defaultCoordinate),
			Magnitude:       number(row, "mag", defaultMagnitude),
			MajorAxisArcmin: number(row, "maj_ax", 0),
			MinorAxisArcmin: number(row, "min_ax", 0),
		})
	}

	return objs, nil
}

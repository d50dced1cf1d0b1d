// Package ranker orders catalog objects by tonight's visibility. Metrics for
// the whole catalog are computed against one shared alt-az frame, then the
// list is sorted by a caller-selected composite key with catalog priority as
// the final tie-break.
package ranker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stone17/my-sky-observer/internal/astro"
	"github.com/stone17/my-sky-observer/internal/catalog"
)

// SortField is one key of the composite ranking sort.
type SortField string

const (
	SortBrightness SortField = "brightness" // ascending magnitude
	SortSize       SortField = "size"       // descending major axis
	SortTime       SortField = "time"       // descending max altitude
	SortAltitude   SortField = "altitude"   // alias of time
	SortHoursAbove SortField = "hours_above" // descending hours visible
)

// ParseSortFields parses a comma-separated sort key list. Unknown keys are a
// validation error, not a silent no-op. An empty list defaults to altitude.
func ParseSortFields(s string) ([]SortField, error) {
	if strings.TrimSpace(s) == "" {
		return []SortField{SortTime}, nil
	}
	var fields []SortField
	for _, part := range strings.Split(s, ",") {
		f := SortField(strings.ToLower(strings.TrimSpace(part)))
		if _, ok := comparators[f]; !ok {
			return nil, fmt.Errorf("unknown sort field %q", f)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Ranked is a catalog object with its per-request visibility metrics.
type Ranked struct {
	catalog.Object
	MaxAltitudeDeg float64
	HoursVisible   float64
	PriorityRank   int
}

// comparators returns <0 when a ranks before b on that field alone.
var comparators = map[SortField]func(a, b *Ranked) int{
	SortBrightness: func(a, b *Ranked) int { return cmpFloat(a.Magnitude, b.Magnitude) },
	SortSize:       func(a, b *Ranked) int { return cmpFloat(b.MajorAxisArcmin, a.MajorAxisArcmin) },
	SortTime:       func(a, b *Ranked) int { return cmpFloat(b.MaxAltitudeDeg, a.MaxAltitudeDeg) },
	SortAltitude:   func(a, b *Ranked) int { return cmpFloat(b.MaxAltitudeDeg, a.MaxAltitudeDeg) },
	SortHoursAbove: func(a, b *Ranked) int { return cmpFloat(b.HoursVisible, a.HoursVisible) },
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// VisibilityConfig is the candidate filter applied before the expensive
// per-object detail and download phases.
type VisibilityConfig struct {
	MinAltitudeDeg float64
	MinHours       float64
	MaxMagnitude   float64
	MinSizeArcmin  float64
	AllowedTypes   []string // empty means any
}

// Rank computes visibility metrics for every object against the shared frame
// and returns the list sorted by the composite key. The full list is
// returned; filtering for detail candidates is a separate step.
func Rank(objs []catalog.Object, frame *astro.Frame, sessionHours, minAltitudeDeg float64, preferredCatalog string, fields []SortField) []Ranked {
	ras := make([]float64, len(objs))
	decs := make([]float64, len(objs))
	for i, o := range objs {
		ras[i] = o.RADeg
		decs[i] = o.DecDeg
	}

	// One shared frame for the whole catalog; per-object frame construction
	// is what the batch forms exist to avoid.
	maxAlts := astro.BatchMaxAltitude(decs, frame.LatitudeDeg)
	hours := astro.BatchHoursVisible(ras, decs, frame, sessionHours, minAltitudeDeg)

	preferred := strings.ToUpper(strings.TrimSpace(preferredCatalog))
	ranked := make([]Ranked, len(objs))
	for i, o := range objs {
		rank := 2
		if preferred != "" && strings.EqualFold(o.Catalog, preferred) {
			rank = 1
		}
		ranked[i] = Ranked{
			Object:         o,
			MaxAltitudeDeg: maxAlts[i],
			HoursVisible:   hours[i],
			PriorityRank:   rank,
		}
	}

	sortRanked(ranked, fields)
	return ranked
}

// sortRanked applies the composite key: each requested field in order, then
// priority rank (lower first) as the final tie-break.
func sortRanked(ranked []Ranked, fields []SortField) {
	cmps := make([]func(a, b *Ranked) int, 0, len(fields))
	for _, f := range fields {
		cmps = append(cmps, comparators[f])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		for _, cmp := range cmps {
			if c := cmp(a, b); c != 0 {
				return c < 0
			}
		}
		return a.PriorityRank < b.PriorityRank
	})
}

// Filter returns the objects that pass the candidate predicate: altitude and
// hours at or above the minimums, magnitude at or below the maximum, size at
// or above the minimum, and type in the allowed set (or any type when the
// set is empty). Order is preserved.
func Filter(ranked []Ranked, cfg VisibilityConfig) []Ranked {
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			allowed[t] = true
		}
	}

	var out []Ranked
	for _, r := range ranked {
		if r.MaxAltitudeDeg < cfg.MinAltitudeDeg {
			continue
		}
		if r.HoursVisible < cfg.MinHours {
			continue
		}
		if cfg.MaxMagnitude > 0 && r.Magnitude > cfg.MaxMagnitude {
			continue
		}
		if r.MajorAxisArcmin < cfg.MinSizeArcmin {
			continue
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(r.Type)] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FitsFOV reports whether the object can be framed: its major axis must be
// smaller than the shorter FOV dimension.
func FitsFOV(o catalog.Object, fov astro.FieldOfView) bool {
	minDim := fov.WidthArcmin
	if fov.HeightArcmin < minDim {
		minDim = fov.HeightArcmin
	}
	return o.MajorAxisArcmin < minDim
}

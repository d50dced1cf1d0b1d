package stream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/stone17/my-sky-observer/internal/astro"
	"github.com/stone17/my-sky-observer/internal/ranker"
)

// downloadMode selects which objects the download phase fetches.
type downloadMode string

const (
	// downloadQueued fetches only cache-miss objects among the detailed
	// candidates (the default).
	downloadQueued downloadMode = "queued"
	// downloadFiltered fetches every object that passed the filter.
	downloadFiltered downloadMode = "filtered"
	// downloadAll fetches every ranked object.
	downloadAll downloadMode = "all"
)

const (
	defaultMinAltitudeDeg = 30.0
	defaultDetailLimit    = 50
	maxDetailLimit        = 200
)

// planRequest is a validated plan query.
type planRequest struct {
	Setup      astro.OpticalSetup
	Location   astro.Location
	Catalogs   []string
	SortFields []ranker.SortField
	Visibility ranker.VisibilityConfig
	Download   downloadMode
	Limit      int
}

// parsePlanRequest validates the plan query parameters. Any error is a
// client error and maps to a 400 response.
func parsePlanRequest(q url.Values) (planRequest, error) {
	var req planRequest

	focal, err := requiredFloat(q, "focal_length")
	if err != nil {
		return req, err
	}
	sensorW, err := requiredFloat(q, "sensor_width")
	if err != nil {
		return req, err
	}
	sensorH, err := requiredFloat(q, "sensor_height")
	if err != nil {
		return req, err
	}
	if focal <= 0 || sensorW <= 0 || sensorH <= 0 {
		return req, fmt.Errorf("focal_length, sensor_width and sensor_height must be positive")
	}
	req.Setup = astro.OpticalSetup{FocalLengthMm: focal, SensorWidthMm: sensorW, SensorHeightMm: sensorH}

	lat, err := requiredFloat(q, "latitude")
	if err != nil {
		return req, err
	}
	lon, err := requiredFloat(q, "longitude")
	if err != nil {
		return req, err
	}
	req.Location = astro.Location{LatitudeDeg: lat, LongitudeDeg: lon}
	if !req.Location.Valid() {
		return req, fmt.Errorf("latitude must be in [-90,90] and longitude in [-180,180]")
	}

	for _, name := range strings.Split(q.Get("catalogs"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			req.Catalogs = append(req.Catalogs, name)
		}
	}
	if len(req.Catalogs) == 0 {
		return req, fmt.Errorf("catalogs parameter is required")
	}

	req.SortFields, err = ranker.ParseSortFields(q.Get("sort"))
	if err != nil {
		return req, err
	}

	req.Visibility.MinAltitudeDeg, err = optionalFloat(q, "min_altitude", defaultMinAltitudeDeg)
	if err != nil {
		return req, err
	}
	if req.Visibility.MinAltitudeDeg < 0 || req.Visibility.MinAltitudeDeg >= 90 {
		return req, fmt.Errorf("min_altitude must be in [0,90)")
	}
	if req.Visibility.MinHours, err = optionalFloat(q, "min_hours", 0); err != nil {
		return req, err
	}
	if req.Visibility.MaxMagnitude, err = optionalFloat(q, "max_magnitude", 0); err != nil {
		return req, err
	}
	if req.Visibility.MinSizeArcmin, err = optionalFloat(q, "min_size", 0); err != nil {
		return req, err
	}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			req.Visibility.AllowedTypes = append(req.Visibility.AllowedTypes, t)
		}
	}

	switch mode := q.Get("download"); mode {
	case "", string(downloadQueued):
		req.Download = downloadQueued
	case string(downloadFiltered):
		req.Download = downloadFiltered
	case string(downloadAll):
		req.Download = downloadAll
	default:
		return req, fmt.Errorf("download must be one of queued, filtered, all")
	}

	req.Limit = defaultDetailLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDetailLimit {
			return req, fmt.Errorf("limit must be an integer in [1,%d]", maxDetailLimit)
		}
		req.Limit = n
	}

	return req, nil
}

func requiredFloat(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, fmt.Errorf("%s parameter is required", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return f, nil
}

func optionalFloat(q url.Values, name string, def float64) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return f, nil
}

package astro

import (
	"math"
	"time"
)

// Arcminutes per radian.
const rad2arcmin = 180.0 / math.Pi * 60.0

// ComputeFieldOfView derives the sky coverage of an optical setup using the
// exact tangent formula (not the small-angle approximation):
//
//	fov = 2·atan(sensorDim / (2·focalLength))
func ComputeFieldOfView(setup OpticalSetup) FieldOfView {
	return FieldOfView{
		WidthArcmin:  2 * math.Atan(setup.SensorWidthMm/(2*setup.FocalLengthMm)) * rad2arcmin,
		HeightArcmin: 2 * math.Atan(setup.SensorHeightMm/(2*setup.FocalLengthMm)) * rad2arcmin,
	}
}

// MaxAltitude returns the highest altitude in degrees an object at the given
// declination reaches from the given latitude: 90 − |lat − dec|, clamped to
// [0, 90]. Malformed declinations fail closed to 0 so a bad row cannot abort
// a batch.
func MaxAltitude(decDeg, latitudeDeg float64) float64 {
	if math.IsNaN(decDeg) || math.IsInf(decDeg, 0) || decDeg < -90 || decDeg > 90 {
		return 0.0
	}
	alt := 90 - math.Abs(latitudeDeg-decDeg)
	if alt < 0 {
		return 0
	}
	if alt > 90 {
		return 90
	}
	return alt
}

// HoursAboveAltitude returns how many hours per sidereal day an object at
// declination decDeg stays at or above minAltitudeDeg from latitudeDeg,
// using the spherical hour-angle method:
//
//	cos H = (sin(minAlt) − sin(lat)·sin(dec)) / (cos(lat)·cos(dec))
//
// cos H ≥ 1 means the object never clears the altitude; cos H ≤ −1 means it
// is circumpolar above it (24 h). A zero denominator (observer or object at
// a pole) yields 0.
func HoursAboveAltitude(decDeg, latitudeDeg, minAltitudeDeg float64) float64 {
	lat := latitudeDeg * deg2rad
	dec := decDeg * deg2rad
	minAlt := minAltitudeDeg * deg2rad

	den := math.Cos(lat) * math.Cos(dec)
	if den == 0 {
		return 0.0
	}

	cosH := (math.Sin(minAlt) - math.Sin(lat)*math.Sin(dec)) / den
	switch {
	case cosH >= 1:
		return 0.0
	case cosH <= -1:
		return 24.0
	}
	return 2 * math.Acos(cosH) * (12.0 / math.Pi)
}

// Frame is a precomputed alt-az evaluation frame: a fixed set of sample
// times with their local sidereal times and the observer latitude terms.
// Building it once and sharing it across a whole catalog avoids rebuilding
// the time grid per object, which is where the batch cost would otherwise
// go.
type Frame struct {
	Times       []time.Time
	LatitudeDeg float64
	lst         []float64
	sinLat      float64
	cosLat      float64
}

// NewFrame samples numPoints evenly spaced instants across [start, end]
// for the given location.
func NewFrame(loc Location, start, end time.Time, numPoints int) *Frame {
	if numPoints < 2 {
		numPoints = 2
	}
	step := end.Sub(start) / time.Duration(numPoints-1)
	lat := loc.LatitudeDeg * deg2rad

	f := &Frame{
		Times:       make([]time.Time, numPoints),
		LatitudeDeg: loc.LatitudeDeg,
		lst:         make([]float64, numPoints),
		sinLat:      math.Sin(lat),
		cosLat:      math.Cos(lat),
	}
	for i := 0; i < numPoints; i++ {
		t := start.Add(time.Duration(i) * step)
		f.Times[i] = t
		f.lst[i] = LST(t, loc.LongitudeDeg)
	}
	return f
}

// Altitudes evaluates the altitude in degrees of a fixed RA/dec position at
// every frame sample.
func (f *Frame) Altitudes(raDeg, decDeg float64) []float64 {
	ra := raDeg * deg2rad
	dec := decDeg * deg2rad
	out := make([]float64, len(f.lst))
	for i, lst := range f.lst {
		out[i] = altitudeAt(ra, dec, f.sinLat, f.cosLat, lst)
	}
	return out
}

// BatchMaxAltitude computes MaxAltitude for every declination in decs.
func BatchMaxAltitude(decs []float64, latitudeDeg float64) []float64 {
	out := make([]float64, len(decs))
	for i, dec := range decs {
		out[i] = MaxAltitude(dec, latitudeDeg)
	}
	return out
}

// BatchHoursVisible computes, for each object, the hours its altitude stays
// at or above minAltitudeDeg across the shared frame, scaled to
// sessionDurationHours. The frame is expected to span the night window, so
// the result is already intersected with it. Results are clamped to [0, 24].
func BatchHoursVisible(ras, decs []float64, frame *Frame, sessionDurationHours, minAltitudeDeg float64) []float64 {
	out := make([]float64, len(ras))
	n := len(frame.lst)
	if n == 0 || sessionDurationHours <= 0 {
		return out
	}
	for i := range ras {
		ra := ras[i] * deg2rad
		dec := decs[i] * deg2rad
		above := 0
		for _, lst := range frame.lst {
			if altitudeAt(ra, dec, frame.sinLat, frame.cosLat, lst) >= minAltitudeDeg {
				above++
			}
		}
		h := float64(above) / float64(n) * sessionDurationHours
		if h > 24 {
			h = 24
		}
		out[i] = math.Round(h*10) / 10
	}
	return out
}

// AltitudeCurve samples the target's and the Moon's altitude at numPoints
// evenly spaced instants across [start, end]. Timestamps are ISO 8601 and
// altitudes are rounded to two decimals. A lunar ephemeris failure returns
// an empty moon series; the target curve is never affected by it.
func AltitudeCurve(raDeg, decDeg float64, loc Location, start, end time.Time, numPoints int) (target, moon []AltitudePoint) {
	if numPoints < 2 {
		numPoints = 2
	}
	step := end.Sub(start) / time.Duration(numPoints-1)

	ra := raDeg * deg2rad
	dec := decDeg * deg2rad
	lat := loc.LatitudeDeg * deg2rad
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	target = make([]AltitudePoint, 0, numPoints)
	moon = make([]AltitudePoint, 0, numPoints)
	moonOK := true

	for i := 0; i < numPoints; i++ {
		t := start.Add(time.Duration(i) * step).UTC()
		ts := t.Format(time.RFC3339)
		lst := LST(t, loc.LongitudeDeg)

		alt := altitudeAt(ra, dec, sinLat, cosLat, lst)
		target = append(target, AltitudePoint{Time: ts, Altitude: round2(alt)})

		if moonOK {
			mra, mdec, err := moonEquatorial(t)
			if err != nil {
				moonOK = false
				moon = moon[:0]
				continue
			}
			malt := altitudeAt(mra, mdec, sinLat, cosLat, lst)
			moon = append(moon, AltitudePoint{Time: ts, Altitude: round2(malt)})
		}
	}
	return target, moon
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package astro

import (
	"math"
	"time"
)

const deg2rad = math.Pi / 180.0

// Solar altitude thresholds in degrees. Sunrise/sunset uses the standard
// refraction-corrected value for the upper limb.
const (
	horizonAltDeg      = -0.833
	civilAltDeg        = -6.0
	nauticalAltDeg     = -12.0
	astronomicalAltDeg = -18.0
)

// sunEquatorial returns the Sun's apparent right ascension and declination
// in radians at time t.
//
// Low-precision ephemeris per Meeus "Astronomical Algorithms" ch. 25;
// accurate to well under 0.01°, far below the twilight tolerance here.
func sunEquatorial(t time.Time) (raRad, decRad float64) {
	T := (JulianDate(t) - j2000) / 36525.0

	// Geometric mean longitude and mean anomaly (degrees).
	L0 := math.Mod(280.46646+36000.76983*T, 360)
	M := (357.52911 + 35999.05029*T) * deg2rad

	// Equation of center.
	C := (1.914602-0.004817*T)*math.Sin(M) +
		(0.019993-0.000101*T)*math.Sin(2*M) +
		0.000289*math.Sin(3*M)

	// Apparent ecliptic longitude, corrected for nutation and aberration.
	omega := (125.04 - 1934.136*T) * deg2rad
	lambda := (L0 + C - 0.00569 - 0.00478*math.Sin(omega)) * deg2rad

	// Obliquity of the ecliptic, corrected for nutation.
	eps := (23.439291 - 0.0130042*T + 0.00256*math.Cos(omega)) * deg2rad

	decRad = math.Asin(math.Sin(eps) * math.Sin(lambda))
	raRad = math.Atan2(math.Cos(eps)*math.Sin(lambda), math.Cos(lambda))
	if raRad < 0 {
		raRad += 2 * math.Pi
	}
	return raRad, decRad
}

// SolarAltitude returns the Sun's altitude in degrees above the horizon at
// time t for the given location.
func SolarAltitude(t time.Time, loc Location) float64 {
	ra, dec := sunEquatorial(t)
	lat := loc.LatitudeDeg * deg2rad
	return altitudeAt(ra, dec, math.Sin(lat), math.Cos(lat), LST(t, loc.LongitudeDeg))
}

package astro

import (
	"errors"
	"math"
	"time"
)

// errMoonRange is returned when a lunar position is requested outside the
// truncated ephemeris' validity window.
var errMoonRange = errors.New("time outside lunar ephemeris range")

// moonEquatorial returns the Moon's geocentric right ascension and
// declination in radians at time t.
//
// Truncated ephemeris using the principal periodic terms of Meeus ch. 47.
// Position error stays below ~0.3°, which is fine for an altitude curve
// overlay; topocentric parallax is ignored.
func moonEquatorial(t time.Time) (raRad, decRad float64, err error) {
	T := (JulianDate(t) - j2000) / 36525.0
	if math.Abs(T) > 2.0 {
		// Two centuries from J2000; the truncated series degrades beyond this.
		return 0, 0, errMoonRange
	}

	// Fundamental arguments (degrees).
	Lp := 218.3164477 + 481267.88123421*T // mean longitude
	D := 297.8501921 + 445267.1114034*T   // mean elongation
	M := 357.5291092 + 35999.0502909*T    // Sun mean anomaly
	Mp := 134.9633964 + 477198.8675055*T  // Moon mean anomaly
	F := 93.2720950 + 483202.0175233*T    // argument of latitude

	dRad := D * deg2rad
	mRad := M * deg2rad
	mpRad := Mp * deg2rad
	fRad := F * deg2rad

	// Ecliptic longitude (degrees): principal terms.
	lambda := Lp +
		6.288774*math.Sin(mpRad) +
		1.274027*math.Sin(2*dRad-mpRad) +
		0.658314*math.Sin(2*dRad) +
		0.213618*math.Sin(2*mpRad) -
		0.185116*math.Sin(mRad) -
		0.114332*math.Sin(2*fRad)

	// Ecliptic latitude (degrees): principal terms.
	beta := 5.128122*math.Sin(fRad) +
		0.280602*math.Sin(mpRad+fRad) +
		0.277693*math.Sin(mpRad-fRad) +
		0.173237*math.Sin(2*dRad-fRad)

	lamRad := lambda * deg2rad
	betRad := beta * deg2rad
	eps := (23.439291 - 0.0130042*T) * deg2rad

	decRad = math.Asin(math.Sin(betRad)*math.Cos(eps) +
		math.Cos(betRad)*math.Sin(eps)*math.Sin(lamRad))
	raRad = math.Atan2(math.Sin(lamRad)*math.Cos(eps)-math.Tan(betRad)*math.Sin(eps),
		math.Cos(lamRad))
	if raRad < 0 {
		raRad += 2 * math.Pi
	}
	return raRad, decRad, nil
}

// MoonAltitude returns the Moon's altitude in degrees at time t for the
// given location.
func MoonAltitude(t time.Time, loc Location) (float64, error) {
	ra, dec, err := moonEquatorial(t)
	if err != nil {
		return 0, err
	}
	lat := loc.LatitudeDeg * deg2rad
	return altitudeAt(ra, dec, math.Sin(lat), math.Cos(lat), LST(t, loc.LongitudeDeg)), nil
}

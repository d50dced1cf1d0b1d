package astro

import (
	"errors"
	"time"
)

// Solar event search tuning. A coarse scan brackets the threshold crossing,
// then bisection narrows it below one second.
const (
	coarseStep    = 10 * time.Minute
	searchHorizon = 36 * time.Hour
	refineIters   = 24
	sessionPad    = 30 * time.Minute
)

var errNoCrossing = errors.New("no solar crossing found in search window")

// findCrossing locates the first time in (from, from+horizon] at which the
// solar altitude crosses threshold in the given direction (rising: below to
// at-or-above; setting: above to at-or-below). The search direction may be
// reversed with a negative horizon.
func findCrossing(loc Location, from time.Time, horizon time.Duration, thresholdDeg float64, rising bool) (time.Time, error) {
	step := coarseStep
	if horizon < 0 {
		step = -coarseStep
		horizon = -horizon
	}

	above := func(t time.Time) bool {
		return SolarAltitude(t, loc) >= thresholdDeg
	}

	prev := from
	prevAbove := above(prev)
	for elapsed := time.Duration(0); elapsed < searchHorizon && elapsed < horizon+coarseStep; elapsed += coarseStep {
		cur := prev.Add(step)
		curAbove := above(cur)

		crossed := false
		if step > 0 {
			crossed = (rising && !prevAbove && curAbove) || (!rising && prevAbove && !curAbove)
		} else {
			// Scanning backwards: the bracket is [cur, prev] and the
			// forward-time transition happens inside it.
			crossed = (rising && !curAbove && prevAbove) || (!rising && curAbove && !prevAbove)
		}

		if crossed {
			lo, hi := prev, cur
			if step < 0 {
				lo, hi = cur, prev
			}
			return refineCrossing(loc, lo, hi, thresholdDeg, rising), nil
		}
		prev = cur
		prevAbove = curAbove
	}
	return time.Time{}, errNoCrossing
}

// refineCrossing bisects [lo, hi] down to the crossing instant.
func refineCrossing(loc Location, lo, hi time.Time, thresholdDeg float64, rising bool) time.Time {
	for i := 0; i < refineIters; i++ {
		mid := lo.Add(hi.Sub(lo) / 2)
		midAbove := SolarAltitude(mid, loc) >= thresholdDeg
		if midAbove == rising {
			// Crossing already happened by mid.
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
}

// ObservingSession returns tonight's observing window for the location: the
// sunset→sunrise bracket containing or next following now, padded by 30
// minutes on each side. If the solar event search fails (polar day/night),
// the session degrades to (now, now+24h).
func ObservingSession(loc Location, now time.Time) Session {
	now = now.UTC()

	// If we are currently inside a night, use the sunset behind us.
	sunset, err := findCrossing(loc, now, -searchHorizon, horizonAltDeg, false)
	if err == nil {
		sunrise, err2 := findCrossing(loc, sunset, searchHorizon, horizonAltDeg, true)
		if err2 == nil && sunrise.After(now) {
			return Session{Start: sunset.Add(-sessionPad), End: sunrise.Add(sessionPad)}
		}
	}

	// Otherwise take the next sunset ahead of us.
	sunset, err = findCrossing(loc, now, searchHorizon, horizonAltDeg, false)
	if err == nil {
		sunrise, err2 := findCrossing(loc, sunset, searchHorizon, horizonAltDeg, true)
		if err2 == nil {
			return Session{Start: sunset.Add(-sessionPad), End: sunrise.Add(sessionPad)}
		}
	}

	return Session{Start: now, End: now.Add(24 * time.Hour)}
}

// ComputeTwilightWindows derives the named twilight intervals for the night
// anchored at sessionStart. The sunset used is whichever one is nearest
// sessionStart, not simply the next one, so a session that begins just after
// sunset does not pick up tomorrow's events. On total failure the result
// degrades to a single "day" or "night" window over the next 24 hours based
// on the instantaneous solar altitude.
func ComputeTwilightWindows(loc Location, sessionStart time.Time) TwilightWindows {
	sessionStart = sessionStart.UTC()

	sunset, err := nearestSunset(loc, sessionStart)
	if err != nil {
		return fallbackWindow(loc, sessionStart)
	}

	sunrise, err := findCrossing(loc, sunset, searchHorizon, horizonAltDeg, true)
	if err != nil {
		return fallbackWindow(loc, sessionStart)
	}

	// Evening descents, then morning ascents, each searched from the
	// previous event so the windows chain in order.
	type step struct {
		threshold float64
		rising    bool
	}
	steps := []step{
		{civilAltDeg, false},
		{nauticalAltDeg, false},
		{astronomicalAltDeg, false},
		{astronomicalAltDeg, true},
		{nauticalAltDeg, true},
		{civilAltDeg, true},
	}
	marks := make([]time.Time, 0, len(steps)+2)
	marks = append(marks, sunset)
	from := sunset
	for _, st := range steps {
		ev, err := findCrossing(loc, from, searchHorizon, st.threshold, st.rising)
		if err != nil {
			return fallbackWindow(loc, sessionStart)
		}
		marks = append(marks, ev)
		from = ev
	}
	marks = append(marks, sunrise)

	names := []string{"civil", "nautical", "astronomical", "night",
		"astronomical_morn", "nautical_morn", "civil_morn"}

	var windows TwilightWindows
	for i, name := range names {
		w := Window{Name: name, Start: marks[i], End: marks[i+1]}
		if w.End.After(w.Start) {
			windows = append(windows, w)
		}
	}
	return windows
}

// nearestSunset returns the sunset closest in time to t, looking both
// backwards and forwards.
func nearestSunset(loc Location, t time.Time) (time.Time, error) {
	prev, errPrev := findCrossing(loc, t, -searchHorizon, horizonAltDeg, false)
	next, errNext := findCrossing(loc, t, searchHorizon, horizonAltDeg, false)

	switch {
	case errPrev != nil && errNext != nil:
		return time.Time{}, errNoCrossing
	case errPrev != nil:
		return next, nil
	case errNext != nil:
		return prev, nil
	}
	if t.Sub(prev) <= next.Sub(t) {
		return prev, nil
	}
	return next, nil
}

// fallbackWindow classifies the next 24 hours as day or night from the
// instantaneous solar altitude (above −18° counts as day).
func fallbackWindow(loc Location, from time.Time) TwilightWindows {
	name := "night"
	if SolarAltitude(from, loc) > astronomicalAltDeg {
		name = "day"
	}
	return TwilightWindows{{Name: name, Start: from, End: from.Add(24 * time.Hour)}}
}

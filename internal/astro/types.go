package astro

import "time"

// OpticalSetup describes the imaging train: telescope focal length and
// camera sensor dimensions, all in millimeters.
type OpticalSetup struct {
	FocalLengthMm  float64
	SensorWidthMm  float64
	SensorHeightMm float64
}

// FieldOfView is the angular extent of sky covered by an OpticalSetup.
type FieldOfView struct {
	WidthArcmin  float64
	HeightArcmin float64
}

// WidthDeg returns the FOV width in degrees.
func (f FieldOfView) WidthDeg() float64 { return f.WidthArcmin / 60.0 }

// HeightDeg returns the FOV height in degrees.
func (f FieldOfView) HeightDeg() float64 { return f.HeightArcmin / 60.0 }

// Location is a ground observer position in degrees.
type Location struct {
	LatitudeDeg  float64
	LongitudeDeg float64
}

// Valid reports whether the location is within geographic bounds.
func (l Location) Valid() bool {
	return l.LatitudeDeg >= -90 && l.LatitudeDeg <= 90 &&
		l.LongitudeDeg >= -180 && l.LongitudeDeg <= 180
}

// Session is the observing window for one night: sunset to sunrise with
// padding applied on both ends.
type Session struct {
	Start time.Time
	End   time.Time
}

// DurationHours returns the session length in hours.
func (s Session) DurationHours() float64 {
	return s.End.Sub(s.Start).Hours()
}

// Window is a named half-open time interval [Start, End).
type Window struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TwilightWindows holds the ordered twilight intervals for a session.
// Only intervals with End after Start are retained.
type TwilightWindows []Window

// Find returns the window with the given name, or false if absent.
func (tw TwilightWindows) Find(name string) (Window, bool) {
	for _, w := range tw {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// AltitudePoint is one sample of an altitude curve.
type AltitudePoint struct {
	Time     string  `json:"time"`
	Altitude float64 `json:"altitude"`
}

package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Params are the imaging inputs that determine whether two requests can
// share cached images. Any change produces a new fingerprint and therefore
// a disjoint cache partition; old files are never reused or overwritten.
type Params struct {
	FOVWidthDeg  float64
	FOVHeightDeg float64
	Padding      float64
	ResolutionPx int
	Survey       string
}

// Fingerprint derives the deterministic cache partition key: the first 12
// hex characters of a SHA-256 over the canonical parameter string.
func (p Params) Fingerprint() string {
	s := fmt.Sprintf("w%.4f_h%.4f_p%.2f_r%d_%s",
		p.FOVWidthDeg, p.FOVHeightDeg, p.Padding, p.ResolutionPx, p.Survey)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// SanitizeID makes an object ID safe for use as a filename component:
// spaces become underscores, slashes become dashes, and any other character
// outside [A-Za-z0-9._-] is dropped.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '/':
			b.WriteByte('-')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

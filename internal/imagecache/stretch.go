package imagecache

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// Decoders for the formats the survey upstream actually returns.
	_ "image/gif"
	_ "image/png"
)

// Post-processing constants. The stretch clips the darkest and brightest
// half-percent of pixels, then gamma-corrects toward the target mean.
const (
	// DefaultTargetMean is the brightness the gamma solve drives the mean
	// of valid pixels to. The upstream value drifted between revisions
	// (60/64/85), so it is a named constant rather than an inferred truth.
	DefaultTargetMean = 60.0

	lowPercentile  = 0.005
	highPercentile = 0.995
	gammaIters     = 10
	gammaLo        = 0.1
	gammaHi        = 10.0
	jpegQuality    = 95
)

// AutoStretch converts an image to single-channel luminance, linear-stretches
// it between its 0.5 and 99.5 brightness percentiles (measured over pixels
// that are not pure black or white), gamma-corrects the result so the mean
// of non-clipped pixels lands on targetMean, and re-encodes as JPEG.
//
// Any failure returns an error and no output: the caller must not cache a
// result the pipeline could not process.
func AutoStretch(data []byte, targetMean float64) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %dx%d", w, h)
	}

	// Luminance plane.
	pix := make([]uint8, w*h)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 8 bits.
			pix[i] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 24)
			i++
		}
	}

	lo, hi := percentileBounds(pix)
	if hi > lo {
		applyStretch(pix, lo, hi)
	}

	gamma := solveGamma(pix, targetMean)
	applyGamma(pix, gamma)

	gray := &image.Gray{Pix: pix, Stride: w, Rect: image.Rect(0, 0, w, h)}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, gray, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return out.Bytes(), nil
}

// percentileBounds finds the low/high stretch bounds over the histogram of
// pixels that are not true black or true white; those extremes are treated
// as outliers (borders, hot pixels) rather than signal.
func percentileBounds(pix []uint8) (lo, hi uint8) {
	var hist [256]int
	total := 0
	for _, p := range pix {
		if p == 0 || p == 255 {
			continue
		}
		hist[p]++
		total++
	}
	if total == 0 {
		return 0, 0
	}

	lowClip := float64(total) * lowPercentile
	highClip := float64(total) * (1 - highPercentile)

	cum := 0.0
	lo = 1
	for v := 1; v < 255; v++ {
		cum += float64(hist[v])
		if cum >= lowClip {
			lo = uint8(v)
			break
		}
	}

	cum = 0.0
	hi = 254
	for v := 254; v >= 1; v-- {
		cum += float64(hist[v])
		if cum >= highClip {
			hi = uint8(v)
			break
		}
	}
	return lo, hi
}

// applyStretch maps [lo, hi] linearly onto [0, 255], clipping outside.
func applyStretch(pix []uint8, lo, hi uint8) {
	scale := 255.0 / float64(hi-lo)
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		switch {
		case uint8(v) <= lo:
			lut[v] = 0
		case uint8(v) >= hi:
			lut[v] = 255
		default:
			lut[v] = uint8(float64(uint8(v)-lo)*scale + 0.5)
		}
	}
	for i, p := range pix {
		pix[i] = lut[p]
	}
}

// solveGamma bisects for the gamma exponent that brings the mean of valid
// (non-clipped) pixels to targetMean. Exactly gammaIters iterations over
// [gammaLo, gammaHi]: the iteration count and bounds are part of the output
// contract, so identical inputs reproduce identical bytes.
func solveGamma(pix []uint8, targetMean float64) float64 {
	lo, hi := gammaLo, gammaHi
	mid := (lo + hi) / 2
	for i := 0; i < gammaIters; i++ {
		mid = (lo + hi) / 2
		if meanWithGamma(pix, mid) > targetMean {
			// Still too bright: a larger exponent darkens.
			lo = mid
		} else {
			hi = mid
		}
	}
	return mid
}

// meanWithGamma computes the mean brightness of valid pixels after applying
// the gamma exponent. Pixels clipped to 0 or 255 by the stretch are excluded
// so the solve targets actual signal.
func meanWithGamma(pix []uint8, gamma float64) float64 {
	var lut [256]float64
	for v := 1; v < 255; v++ {
		lut[v] = 255.0 * math.Pow(float64(v)/255.0, gamma)
	}

	sum := 0.0
	count := 0
	for _, p := range pix {
		if p == 0 || p == 255 {
			continue
		}
		sum += lut[p]
		count++
	}
	if count == 0 {
		return targetMeanNoSignal
	}
	return sum / float64(count)
}

// targetMeanNoSignal makes the solve a no-op on fully clipped frames.
const targetMeanNoSignal = 0.0

// applyGamma applies the solved exponent to every pixel, clipping to [0,255].
func applyGamma(pix []uint8, gamma float64) {
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		g := 255.0 * math.Pow(float64(v)/255.0, gamma)
		if g < 0 {
			g = 0
		} else if g > 255 {
			g = 255
		}
		lut[v] = uint8(g + 0.5)
	}
	for i, p := range pix {
		pix[i] = lut[p]
	}
}

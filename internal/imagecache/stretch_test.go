package imagecache

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
)

// TestAutoStretchDeterministic: identical inputs must produce identical
// bytes, or concurrent duplicate fetches could publish differing files.
func TestAutoStretchDeterministic(t *testing.T) {
	in := testImagePNG(t)

	a, err := AutoStretch(in, DefaultTargetMean)
	if err != nil {
		t.Fatal(err)
	}
	b, err := AutoStretch(in, DefaultTargetMean)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("AutoStretch output is not deterministic")
	}
}

// TestAutoStretchOutputIsJPEG: the result decodes as a JPEG with the input
// dimensions.
func TestAutoStretchOutputIsJPEG(t *testing.T) {
	out, err := AutoStretch(testImagePNG(t), DefaultTargetMean)
	if err != nil {
		t.Fatal(err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output does not decode as JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("output bounds = %v, want 32x32", b)
	}
}

// TestAutoStretchBrightensDarkFrame: a dim frame must come out with its mean
// pulled toward the target.
func TestAutoStretchBrightensDarkFrame(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(5 + i%20)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}

	out, err := AutoStretch(buf.Bytes(), DefaultTargetMean)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}

	sum, n := 0.0, 0
	b := decoded.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := decoded.At(x, y).RGBA()
			sum += float64(r >> 8)
			n++
		}
	}
	if mean := sum / float64(n); mean < 20 {
		t.Errorf("stretched mean = %.1f, want brightened toward %v", mean, DefaultTargetMean)
	}
}

// TestAutoStretchRejectsGarbage: arbitrary bytes must error, never produce
// output.
func TestAutoStretchRejectsGarbage(t *testing.T) {
	if _, err := AutoStretch([]byte("definitely not pixels"), DefaultTargetMean); err == nil {
		t.Error("expected decode error")
	}
	if _, err := AutoStretch(nil, DefaultTargetMean); err == nil {
		t.Error("expected decode error for empty input")
	}
}

package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func grayImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestDecodePreservesOriginalDimensions(t *testing.T) {
	data := encodePNG(t, grayImage(2048, 1536))
	r, err := Decode(data, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if r.OrigWidth != 2048 || r.OrigHeight != 1536 {
		t.Errorf("original dims = %dx%d, want 2048x1536", r.OrigWidth, r.OrigHeight)
	}
	if r.AnalysisWidth != 1024 || r.AnalysisHeight != 768 {
		t.Errorf("analysis dims = %dx%d, want 1024x768", r.AnalysisWidth, r.AnalysisHeight)
	}
}

func TestDecodeSmallImageNotUpscaled(t *testing.T) {
	data := encodePNG(t, grayImage(320, 240))
	r, err := Decode(data, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if r.AnalysisWidth != 320 || r.AnalysisHeight != 240 {
		t.Errorf("small image was resized to %dx%d", r.AnalysisWidth, r.AnalysisHeight)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image"), 1024); err == nil {
		t.Error("expected decode error")
	}
}

func TestDecodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, grayImage(100, 50), nil); err != nil {
		t.Fatal(err)
	}
	r, err := Decode(buf.Bytes(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if r.OrigWidth != 100 || r.OrigHeight != 50 {
		t.Errorf("dims = %dx%d", r.OrigWidth, r.OrigHeight)
	}
}

func TestPHashStableAcrossRescale(t *testing.T) {
	img := grayImage(800, 600)
	a, err := Decode(encodePNG(t, img), 1024)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Decode(encodePNG(t, ScaleDown(img, 400)), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if d := HammingDistance(a.PHash, b.PHash); d > NearDuplicateThreshold {
		t.Errorf("rescaled image hash drifted by %d bits", d)
	}
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0xFFFFFFFFFFFFFFFF, 0, 64},
		{0b1010, 0b0101, 4},
	}
	for _, tt := range tests {
		if got := HammingDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("HammingDistance(%x, %x) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScaleDownAspectRatio(t *testing.T) {
	out := ScaleDown(grayImage(3000, 1000), 1024)
	b := out.Bounds()
	if b.Dx() != 1024 {
		t.Errorf("longest side = %d, want 1024", b.Dx())
	}
	if b.Dy() != 341 {
		t.Errorf("short side = %d, want 341", b.Dy())
	}
}

func TestRGBToLabAnchors(t *testing.T) {
	white := RGBToLab(255, 255, 255)
	if white.L < 99 || white.L > 101 {
		t.Errorf("white L = %v, want ~100", white.L)
	}
	if white.A > 1 || white.A < -1 || white.B > 1 || white.B < -1 {
		t.Errorf("white chroma = (%v, %v), want ~0", white.A, white.B)
	}

	black := RGBToLab(0, 0, 0)
	if black.L > 1 {
		t.Errorf("black L = %v, want ~0", black.L)
	}

	red := RGBToLab(255, 0, 0)
	if red.A < 40 {
		t.Errorf("red a* = %v, want strongly positive", red.A)
	}

	blue := RGBToLab(0, 0, 255)
	if blue.B > -40 {
		t.Errorf("blue b* = %v, want strongly negative", blue.B)
	}
}

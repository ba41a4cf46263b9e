package vision

import (
	"image"
	"image/color"
	"testing"

	"piclocate/internal/imaging"
	"piclocate/internal/types"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestNearestPaletteColorSnaps(t *testing.T) {
	tests := []struct {
		name string
		lab  types.LAB
		want string
	}{
		{"very dark snaps to black", types.LAB{L: 10, A: 40, B: 40}, "black"},
		{"very light snaps to white", types.LAB{L: 95, A: -20, B: 30}, "white"},
		{"strong red", imaging.RGBToLab(200, 40, 45), "red"},
		{"mid gray", imaging.RGBToLab(128, 128, 128), "gray"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NearestPaletteColor(tt.lab); got != tt.want {
				t.Errorf("NearestPaletteColor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractColorsSolidRegion(t *testing.T) {
	img := solidImage(64, 64, color.RGBA{R: 200, G: 40, B: 45, A: 255})
	clusters := ExtractColors(img, types.BBox{X: 0, Y: 0, W: 64, H: 64})
	if len(clusters) == 0 {
		t.Fatal("no clusters extracted")
	}
	if clusters[0].Name != "red" {
		t.Errorf("dominant cluster = %q, want red", clusters[0].Name)
	}
	var total float64
	for _, c := range clusters {
		total += c.Ratio
	}
	if total > 1.0001 {
		t.Errorf("cluster ratios sum to %v > 1", total)
	}
}

func TestExtractColorsDominantFirst(t *testing.T) {
	// Left three quarters red, right quarter blue: red must come first.
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x < 48 {
				img.SetRGBA(x, y, color.RGBA{R: 200, G: 40, B: 45, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 55, G: 95, B: 200, A: 255})
			}
		}
	}
	clusters := ExtractColors(img, types.BBox{X: 0, Y: 0, W: 64, H: 64})
	if len(clusters) < 2 {
		t.Fatalf("expected dominant plus secondary clusters, got %d", len(clusters))
	}
	if clusters[0].Name != "red" {
		t.Errorf("dominant = %q, want red", clusters[0].Name)
	}
	if clusters[0].Ratio <= clusters[1].Ratio {
		t.Errorf("clusters not ordered by share: %v then %v", clusters[0].Ratio, clusters[1].Ratio)
	}
}

func TestExtractColorsEmptyBox(t *testing.T) {
	img := solidImage(8, 8, color.RGBA{A: 255})
	if got := ExtractColors(img, types.BBox{X: 100, Y: 100, W: 10, H: 10}); got != nil {
		t.Errorf("expected nil for out-of-bounds box, got %v", got)
	}
}

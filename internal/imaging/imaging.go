// Package imaging handles raster work for the indexing pipeline: decoding the
// supported formats, downscaling for analysis, perceptual hashing and CIELAB
// conversion. Everything here is CPU-bound and never blocks on I/O.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"

	// Decoders for the supported MIME types. HEIC has no pure-Go decoder;
	// HEIC items fail decode and are dropped by the fetcher.
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/deepteams/webp"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/draw"

	"piclocate/internal/types"
)

// SupportedMIME lists the MIME types the crawler admits.
var SupportedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
}

// Raster is a decoded image ready for analysis, with the original dimensions
// preserved separately from the working (possibly downscaled) image.
type Raster struct {
	Img            image.Image
	OrigWidth      int
	OrigHeight     int
	PHash          uint64
	AnalysisWidth  int
	AnalysisHeight int
}

// phashNormPx is the longest side the raster is normalized to before hashing.
// Hashing a fixed-size raster keeps the hash stable across resolutions, so
// rescaled copies of the same photo register as near-duplicates.
const phashNormPx = 256

// Decode parses the image bytes, computes the perceptual hash on a
// size-normalized raster and downscales the longest side to maxPx for
// analysis.
func Decode(data []byte, maxPx int) (*Raster, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	bounds := img.Bounds()
	r := &Raster{
		Img:        img,
		OrigWidth:  bounds.Dx(),
		OrigHeight: bounds.Dy(),
	}

	hash, err := goimagehash.PerceptionHash(ScaleDown(img, phashNormPx))
	if err != nil {
		return nil, fmt.Errorf("phash failed: %w", err)
	}
	r.PHash = hash.GetHash()

	r.Img = ScaleDown(img, maxPx)
	b := r.Img.Bounds()
	r.AnalysisWidth = b.Dx()
	r.AnalysisHeight = b.Dy()
	return r, nil
}

// ScaleDown resizes img so its longest side is at most maxPx, preserving
// aspect ratio. Images already within bounds are returned unchanged.
func ScaleDown(img image.Image, maxPx int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if maxPx <= 0 || longest <= maxPx {
		return img
	}

	scale := float64(maxPx) / float64(longest)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// HammingDistance counts differing bits between two 64-bit perceptual hashes.
func HammingDistance(a, b uint64) int {
	return popcount(a ^ b)
}

func popcount(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

// NearDuplicateThreshold is the Hamming distance at or under which two images
// in the same folder are flagged as near-duplicates.
const NearDuplicateThreshold = 6

// RGBToLab converts an sRGB triple (0-255) to CIELAB under the D65 white
// point.
func RGBToLab(r, g, b uint8) types.LAB {
	// sRGB -> linear RGB
	lin := func(c float64) float64 {
		c /= 255.0
		if c > 0.04045 {
			return math.Pow((c+0.055)/1.055, 2.4)
		}
		return c / 12.92
	}
	rl, gl, bl := lin(float64(r)), lin(float64(g)), lin(float64(b))

	// linear RGB -> XYZ (D65)
	x := 0.4124564*rl + 0.3575761*gl + 0.1804375*bl
	y := 0.2126729*rl + 0.7151522*gl + 0.0721750*bl
	z := 0.0193339*rl + 0.1191920*gl + 0.9503041*bl

	// XYZ -> LAB
	f := func(t float64) float64 {
		const delta = 6.0 / 29.0
		if t > delta*delta*delta {
			return math.Cbrt(t)
		}
		return t/(3*delta*delta) + 4.0/29.0
	}
	const xn, yn, zn = 0.95047, 1.0, 1.08883
	fx, fy, fz := f(x/xn), f(y/yn), f(z/zn)

	return types.LAB{
		L: 116*fy - 16,
		A: 500 * (fx - fy),
		B: 200 * (fy - fz),
	}
}

// LabDistance is the squared Euclidean distance between two LAB colors.
// Squared form is fine for nearest-neighbor comparisons.
func LabDistance(a, b types.LAB) float64 {
	dl := a.L - b.L
	da := a.A - b.A
	db := a.B - b.B
	return dl*dl + da*da + db*db
}

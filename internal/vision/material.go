package vision

import (
	"image"
	"math"

	"piclocate/internal/types"
)

// materialConfidenceFloor is the minimum rule confidence; below it the object
// keeps material "unknown".
const materialConfidenceFloor = 0.4

// cropStats summarizes the luminance field of an object crop for the material
// heuristics.
type cropStats struct {
	meanL      float64 // mean luminance, 0-255
	stdL       float64
	laplaceVar float64 // local texture energy
	meanChroma float64 // sqrt(a^2+b^2) averaged in LAB
}

// InferMaterial applies the label-prior heuristics over crop statistics.
// Returns ("unknown", 0) when no rule fires above the confidence floor.
func InferMaterial(img image.Image, box types.BBox, label string) (string, float64) {
	stats := computeCropStats(img, box)
	material, conf := applyMaterialRules(label, stats)
	if conf < materialConfidenceFloor {
		return "unknown", 0
	}
	return material, conf
}

func applyMaterialRules(label string, s cropStats) (string, float64) {
	switch label {
	case "refrigerator", "oven", "stove", "range_hood", "microwave", "washer", "dryer", "sink":
		// Appliances: bright low-chroma surfaces read as brushed steel.
		if s.meanL > 120 && s.meanChroma < 15 {
			return "stainless_steel", 0.7
		}
		return "metal", 0.5

	case "dining_table", "table", "coffee_table", "desk", "kitchen_island":
		// Glossy low-chroma tops with veining texture read as marble.
		if s.laplaceVar > 500 && s.meanChroma < 10 {
			return "marble", 0.65
		}
		if s.meanL > 170 && s.stdL < 25 {
			return "glass", 0.5
		}
		return "wood", 0.55

	case "countertop":
		if s.laplaceVar > 500 {
			return "granite", 0.6
		}
		if s.meanChroma < 10 && s.meanL > 140 {
			return "marble", 0.55
		}
		return "stone", 0.45

	case "sofa", "chair", "bed":
		// Smooth warm surfaces read as leather, textured ones as fabric.
		if s.laplaceVar < 100 && s.meanChroma > 12 {
			return "leather", 0.55
		}
		return "fabric", 0.5

	case "wardrobe", "cabinet":
		return "wood", 0.6

	case "bathtub", "toilet", "shower":
		return "tile", 0.45

	case "mirror":
		return "glass", 0.8

	default:
		return "unknown", 0
	}
}

// computeCropStats walks the crop once on a coarse grid, collecting luminance
// mean/std, a 4-neighbor Laplacian variance, and mean LAB chroma.
func computeCropStats(img image.Image, box types.BBox) cropStats {
	b := img.Bounds()
	x1 := clampInt(box.X, b.Min.X, b.Max.X)
	y1 := clampInt(box.Y, b.Min.Y, b.Max.Y)
	x2 := clampInt(box.X+box.W, b.Min.X, b.Max.X)
	y2 := clampInt(box.Y+box.H, b.Min.Y, b.Max.Y)
	w, h := x2-x1, y2-y1
	if w <= 2 || h <= 2 {
		return cropStats{}
	}

	stride := 1
	for (w/stride)*(h/stride) > colorSampleLimit {
		stride++
	}

	lum := func(x, y int) float64 {
		r, g, bl, _ := img.At(x, y).RGBA()
		return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
	}

	var (
		n, sum, sumSq       float64
		lapN, lapSum, lapSq float64
		chromaSum           float64
	)
	for y := y1 + stride; y < y2-stride; y += stride {
		for x := x1 + stride; x < x2-stride; x += stride {
			l := lum(x, y)
			n++
			sum += l
			sumSq += l * l

			lap := lum(x-stride, y) + lum(x+stride, y) + lum(x, y-stride) + lum(x, y+stride) - 4*l
			lapN++
			lapSum += lap
			lapSq += lap * lap

			r, g, bl, _ := img.At(x, y).RGBA()
			c := rgbChroma(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			chromaSum += c
		}
	}
	if n == 0 {
		return cropStats{}
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	lapMean := lapSum / lapN
	lapVar := lapSq/lapN - lapMean*lapMean

	return cropStats{
		meanL:      mean,
		stdL:       math.Sqrt(math.Max(variance, 0)),
		laplaceVar: math.Max(lapVar, 0),
		meanChroma: chromaSum / n,
	}
}

// rgbChroma approximates LAB chroma from the RGB spread; cheap and monotone
// enough for the threshold rules.
func rgbChroma(r, g, b uint8) float64 {
	maxC := math.Max(float64(r), math.Max(float64(g), float64(b)))
	minC := math.Min(float64(r), math.Min(float64(g), float64(b)))
	return (maxC - minC) / 2
}

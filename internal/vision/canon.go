package vision

import (
	"strings"

	"piclocate/internal/types"
)

// minDetectionScore drops low-confidence detector hits before any other pass
// sees them.
const minDetectionScore = 0.25

// dedupIoU is the overlap above which two same-label boxes collapse into one.
const dedupIoU = 0.6

// labelSynonyms maps raw detector labels onto the canonical vocabulary.
// Detector models disagree on naming; everything downstream speaks only the
// canonical set.
var labelSynonyms = map[string]string{
	"couch":          "sofa",
	"settee":         "sofa",
	"loveseat":       "sofa",
	"tv monitor":     "tv",
	"tvmonitor":      "tv",
	"television":     "tv",
	"monitor":        "tv",
	"fridge":         "refrigerator",
	"icebox":         "refrigerator",
	"diningtable":    "dining_table",
	"dining table":   "dining_table",
	"coffee table":   "coffee_table",
	"kitchen island": "kitchen_island",
	"range hood":     "range_hood",
	"cooker":         "stove",
	"cooktop":        "stove",
	"oven range":     "stove",
	"washing machine": "washer",
	"tumble dryer":   "dryer",
	"closet":         "wardrobe",
	"armoire":        "wardrobe",
	"cupboard":       "cabinet",
	"commode":        "toilet",
	"wc":             "toilet",
	"bath":           "bathtub",
	"tub":            "bathtub",
	"carpet":         "rug",
	"drape":          "curtain",
	"drapes":         "curtain",
	"counter":        "countertop",
	"worktop":        "countertop",
	"night stand":    "desk",
	"armchair":       "chair",
	"stool":          "chair",
	"bench":          "chair",
	"light":          "lamp",
	"chandelier":     "lamp",
	"basin":          "sink",
	"washbasin":      "sink",
	"microwave oven": "microwave",
	"looking glass":  "mirror",
}

// CanonicalLabel maps a raw detector label onto the canonical vocabulary.
// Unknown labels are returned as "" and should be dropped.
func CanonicalLabel(raw string) string {
	l := strings.ToLower(strings.TrimSpace(raw))
	l = strings.ReplaceAll(l, "-", " ")
	if canon, ok := labelSynonyms[l]; ok {
		return canon
	}
	l = strings.ReplaceAll(l, " ", "_")
	if types.IsObjectLabel(l) {
		return l
	}
	return ""
}

// FilterDetections runs pass A on raw detector output: score filter,
// canonicalization, and same-label IoU dedup keeping the higher score.
func FilterDetections(raw []Detection) []Detection {
	var kept []Detection
	for _, d := range raw {
		if d.Score < minDetectionScore {
			continue
		}
		canon := CanonicalLabel(d.Label)
		if canon == "" {
			continue
		}
		d.Label = canon
		kept = append(kept, d)
	}

	// Quadratic dedup is fine; detectors return a few dozen boxes at most.
	var out []Detection
	for i, d := range kept {
		suppressed := false
		for j, other := range kept {
			if i == j || d.Label != other.Label {
				continue
			}
			if iou(d.BBox, other.BBox) <= dedupIoU {
				continue
			}
			if other.Score > d.Score || (other.Score == d.Score && j < i) {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, d)
		}
	}
	return out
}

// iou computes intersection over union for two pixel boxes.
func iou(a, b types.BBox) float64 {
	ix1 := max(a.X, b.X)
	iy1 := max(a.Y, b.Y)
	ix2 := min(a.X+a.W, b.X+b.W)
	iy2 := min(a.Y+a.H, b.Y+b.H)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

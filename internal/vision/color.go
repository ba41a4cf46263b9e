package vision

import (
	"image"
	"sort"

	"piclocate/internal/imaging"
	"piclocate/internal/types"
)

// Pass B tuning.
const (
	colorSampleLimit  = 4096 // max pixels fed to k-means
	colorClusters     = 3
	colorKMeansIters  = 12
	secondaryMinShare = 0.10
	snapDarkL         = 15.0
	snapLightL        = 90.0
)

// paletteAnchor pins each palette name to a reference sRGB value; the LAB
// anchors are derived once at init.
type paletteAnchor struct {
	name    string
	r, g, b uint8
}

var paletteAnchors = []paletteAnchor{
	{"black", 20, 20, 20},
	{"white", 245, 245, 245},
	{"gray", 128, 128, 128},
	{"dark_gray", 70, 70, 70},
	{"light_gray", 190, 190, 190},
	{"brown", 120, 72, 40},
	{"beige", 222, 205, 175},
	{"cream", 250, 243, 215},
	{"red", 200, 40, 45},
	{"blue", 55, 95, 200},
	{"navy", 25, 35, 90},
	{"green", 55, 140, 70},
	{"yellow", 235, 205, 60},
	{"purple", 130, 70, 160},
	{"pink", 235, 160, 180},
	{"orange", 235, 130, 50},
	{"silver", 195, 200, 208},
	{"gold", 205, 170, 80},
}

var paletteLab []types.LAB

func init() {
	paletteLab = make([]types.LAB, len(paletteAnchors))
	for i, a := range paletteAnchors {
		paletteLab[i] = imaging.RGBToLab(a.r, a.g, a.b)
	}
}

// NearestPaletteColor returns the palette name closest to c in LAB space,
// after the dark/light snap.
func NearestPaletteColor(c types.LAB) string {
	if c.L < snapDarkL {
		return "black"
	}
	if c.L > snapLightL {
		return "white"
	}
	best := 0
	bestDist := imaging.LabDistance(c, paletteLab[0])
	for i := 1; i < len(paletteLab); i++ {
		if d := imaging.LabDistance(c, paletteLab[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return paletteAnchors[best].name
}

// ExtractColors crops the box out of img, subsamples pixels, clusters them in
// LAB and names the clusters against the palette. The first returned cluster
// is always the dominant one.
func ExtractColors(img image.Image, box types.BBox) []types.ColorCluster {
	samples := samplePixels(img, box, colorSampleLimit)
	if len(samples) == 0 {
		return nil
	}

	k := colorClusters
	if len(samples) < k {
		k = len(samples)
	}
	centers, counts := kmeans(samples, k)

	total := 0
	for _, c := range counts {
		total += c
	}

	clusters := make([]types.ColorCluster, 0, k)
	for i := range centers {
		if counts[i] == 0 {
			continue
		}
		clusters = append(clusters, types.ColorCluster{
			Name:  NearestPaletteColor(centers[i]),
			Lab:   centers[i],
			Ratio: float64(counts[i]) / float64(total),
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Ratio > clusters[j].Ratio })

	// Drop minor clusters below the secondary threshold, keep the dominant.
	out := clusters[:1]
	for _, c := range clusters[1:] {
		if c.Ratio >= secondaryMinShare {
			out = append(out, c)
		}
	}
	return out
}

// samplePixels collects up to limit LAB samples from the box region, striding
// evenly so coverage stays uniform for large crops.
func samplePixels(img image.Image, box types.BBox, limit int) []types.LAB {
	b := img.Bounds()
	x1 := clampInt(box.X, b.Min.X, b.Max.X)
	y1 := clampInt(box.Y, b.Min.Y, b.Max.Y)
	x2 := clampInt(box.X+box.W, b.Min.X, b.Max.X)
	y2 := clampInt(box.Y+box.H, b.Min.Y, b.Max.Y)
	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return nil
	}

	stride := 1
	for (w/stride)*(h/stride) > limit {
		stride++
	}

	samples := make([]types.LAB, 0, limit)
	for y := y1; y < y2; y += stride {
		for x := x1; x < x2; x += stride {
			r, g, bl, _ := img.At(x, y).RGBA()
			samples = append(samples, imaging.RGBToLab(uint8(r>>8), uint8(g>>8), uint8(bl>>8)))
		}
	}
	return samples
}

// kmeans clusters LAB samples. Seeding is deterministic (spread across the
// lightness-sorted sample) so analysis results are reproducible.
func kmeans(samples []types.LAB, k int) ([]types.LAB, []int) {
	sorted := make([]types.LAB, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].L < sorted[j].L })

	centers := make([]types.LAB, k)
	for i := 0; i < k; i++ {
		centers[i] = sorted[len(sorted)*(2*i+1)/(2*k)]
	}

	assign := make([]int, len(samples))
	counts := make([]int, k)
	for iter := 0; iter < colorKMeansIters; iter++ {
		changed := false
		for i, s := range samples {
			best := 0
			bestDist := imaging.LabDistance(s, centers[0])
			for c := 1; c < k; c++ {
				if d := imaging.LabDistance(s, centers[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([]types.LAB, k)
		for i := range counts {
			counts[i] = 0
		}
		for i, s := range samples {
			c := assign[i]
			sums[c].L += s.L
			sums[c].A += s.A
			sums[c].B += s.B
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				n := float64(counts[c])
				centers[c] = types.LAB{L: sums[c].L / n, A: sums[c].A / n, B: sums[c].B / n}
			}
		}
		if !changed && iter > 0 {
			break
		}
	}
	return centers, counts
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package vision

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sort"

	"github.com/google/uuid"

	"piclocate/internal/imaging"
	"piclocate/internal/logging"
	"piclocate/internal/types"
)

// Analysis is the full multi-pass output for one image.
type Analysis struct {
	Objects        []types.Object
	Room           string
	RoomConfidence float64
	RoomScores     []types.RoomScore
	StyleTags      []string
	Partial        bool
}

// Analyzer drives passes A through D. Construct once and share; it holds no
// per-image state.
type Analyzer struct {
	det Detector
}

// NewAnalyzer creates an analyzer over the given detector.
func NewAnalyzer(det Detector) *Analyzer {
	return &Analyzer{det: det}
}

// Analyze runs the full pass sequence on a decoded raster. A failing pass
// never fails the image: the result carries whatever was computed plus
// Partial=true.
func (a *Analyzer) Analyze(ctx context.Context, raster *imaging.Raster) (*Analysis, error) {
	log := logging.Get(logging.CategoryVision)
	timer := logging.StartTimer(logging.CategoryVision, "analyze")
	defer timer.Stop()

	out := &Analysis{Room: "unknown"}

	// Pass A. Detection runs against the analysis-sized raster so boxes are
	// already in crop coordinates.
	encoded, err := encodeJPEG(raster.Img)
	if err != nil {
		log.Error("encode for detection failed: %v", err)
		out.Partial = true
		return out, nil
	}
	rawDetections, err := a.det.Detect(ctx, encoded)
	if err != nil {
		// Without detections none of the later passes can run.
		log.Error("detection failed: %v", err)
		out.Partial = true
		return out, nil
	}
	detections := FilterDetections(rawDetections)
	log.Debug("pass A: %d raw, %d kept", len(rawDetections), len(detections))

	// Passes B and C per object.
	for _, d := range detections {
		obj := types.Object{
			ID:              uuid.New().String(),
			Label:           d.Label,
			LabelConfidence: d.Score,
			BBox:            d.BBox,
			AreaPixels:      d.BBox.Area(),
			Material:        "unknown",
		}

		clusters := ExtractColors(raster.Img, d.BBox)
		if len(clusters) == 0 {
			out.Partial = true
		} else {
			obj.ColorName = clusters[0].Name
			obj.ColorLab = clusters[0].Lab
			if len(clusters) > 1 {
				obj.SecondaryColors = clusters[1:]
			}
		}

		obj.Material, obj.MaterialConfidence = InferMaterial(raster.Img, d.BBox, d.Label)
		out.Objects = append(out.Objects, obj)
	}

	// Pass D.
	out.Room, out.RoomConfidence, out.RoomScores = ClassifyRoom(detections)
	out.StyleTags = deriveStyleTags(out.Objects)

	log.Debug("pass D: room=%s conf=%.2f objects=%d", out.Room, out.RoomConfidence, len(out.Objects))
	return out, nil
}

// deriveStyleTags infers coarse style tags from the material mix. Intentionally
// conservative: only tags with a clear signal are emitted.
func deriveStyleTags(objects []types.Object) []string {
	counts := map[string]int{}
	for _, o := range objects {
		counts[o.Material]++
	}

	tags := map[string]bool{}
	if counts["stainless_steel"]+counts["glass"]+counts["marble"] >= 2 {
		tags["modern"] = true
	}
	if counts["wood"] >= 2 {
		tags["classic"] = true
	}
	if counts["leather"] >= 1 && counts["wood"] >= 1 {
		tags["rustic"] = true
	}

	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

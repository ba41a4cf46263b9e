package vision

import (
	"math"
	"sort"

	"piclocate/internal/types"
)

// roomScoreThreshold is the minimum softmax share for a room to win; below it
// the image stays "unknown".
const roomScoreThreshold = 0.4

// roomWeights maps canonical labels to per-room votes. A detected object
// contributes weight * label_confidence to each room it votes for.
var roomWeights = map[string]map[string]float64{
	"refrigerator":   {"kitchen": 3},
	"oven":           {"kitchen": 3},
	"stove":          {"kitchen": 3},
	"range_hood":     {"kitchen": 2.5},
	"microwave":      {"kitchen": 2},
	"kitchen_island": {"kitchen": 4},
	"countertop":     {"kitchen": 2, "bathroom": 0.5},
	"sink":           {"kitchen": 1.5, "bathroom": 1.5, "laundry": 0.5},
	"cabinet":        {"kitchen": 1, "bathroom": 0.5},
	"dining_table":   {"dining_room": 3, "kitchen": 1},
	"table":          {"dining_room": 1, "living_room": 0.5},
	"toilet":         {"bathroom": 5},
	"shower":         {"bathroom": 4},
	"bathtub":        {"bathroom": 4},
	"mirror":         {"bathroom": 1, "bedroom": 0.5, "entryway": 0.5},
	"bed":            {"bedroom": 5, "kids_room": 1},
	"wardrobe":       {"bedroom": 2, "kids_room": 0.5},
	"sofa":           {"living_room": 4},
	"coffee_table":   {"living_room": 3},
	"tv":             {"living_room": 2, "bedroom": 1},
	"rug":            {"living_room": 1, "bedroom": 0.5},
	"curtain":        {"living_room": 0.5, "bedroom": 0.5},
	"lamp":           {"living_room": 0.5, "bedroom": 0.5, "office": 0.5},
	"desk":           {"office": 4, "kids_room": 1},
	"chair":          {"dining_room": 1, "office": 0.5},
	"washer":         {"laundry": 4},
	"dryer":          {"laundry": 4},
}

// ClassifyRoom runs pass D: weighted object voting softmaxed over rooms.
// Returns the winning room (or "unknown"), its softmax score, and all
// non-zero room scores for persistence.
func ClassifyRoom(detections []Detection) (string, float64, []types.RoomScore) {
	raw := make(map[string]float64)
	for _, d := range detections {
		for room, w := range roomWeights[d.Label] {
			raw[room] += w * d.Score
		}
	}
	if len(raw) == 0 {
		return "unknown", 0, nil
	}

	// Softmax over the raw votes. Max-shifted for stability.
	maxV := math.Inf(-1)
	for _, v := range raw {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	soft := make(map[string]float64, len(raw))
	for room, v := range raw {
		e := math.Exp(v - maxV)
		soft[room] = e
		sum += e
	}

	scores := make([]types.RoomScore, 0, len(soft))
	bestRoom, bestScore := "", 0.0
	for room, e := range soft {
		s := e / sum
		scores = append(scores, types.RoomScore{Room: room, Score: s})
		if s > bestScore || (s == bestScore && room < bestRoom) {
			bestRoom, bestScore = room, s
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Room < scores[j].Room
	})

	if bestScore < roomScoreThreshold {
		return "unknown", bestScore, scores
	}
	return bestRoom, bestScore, scores
}

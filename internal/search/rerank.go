package search

import (
	"fmt"
	"sort"
	"strings"

	"piclocate/internal/types"
)

// Rerank runs Stage C: filter by verdict and cutoff, blend the scores, sort,
// truncate, and attach the explanation fields.
func Rerank(cands []types.RetrievalCandidate, verdicts map[string]types.VLMVerdict, cutoff, alpha float64, limit int) []types.SearchResult {
	var results []types.SearchResult
	for _, c := range cands {
		verdict, ok := verdicts[c.ImageID]
		if !ok || !verdict.Matches || verdict.Confidence < cutoff {
			continue
		}

		room := c.Room
		if verdict.Room != "" {
			room = verdict.Room
		}
		final := alpha*verdict.Confidence + (1-alpha)*c.RetrievalScore
		results = append(results, types.SearchResult{
			ImageID:         c.ImageID,
			ExternalID:      c.ExternalID,
			FileName:        c.FileName,
			FolderPath:      c.FolderPath,
			Room:            room,
			VLMConfidence:   verdict.Confidence,
			FinalScore:      final,
			RetrievalScore:  c.RetrievalScore,
			Evidence:        verdict.Evidence,
			MatchReasons:    matchReasons(room, verdict.Evidence),
			AINotes:         verdict.Notes,
			ConfidenceBadge: badge(verdict.Confidence),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].ExternalID < results[j].ExternalID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// matchReasons renders the evidence as short human-readable lines.
func matchReasons(room string, ev types.Evidence) []string {
	var reasons []string
	if room != "" && room != "unknown" {
		reasons = append(reasons, "Room: "+strings.ReplaceAll(room, "_", " "))
	}
	if len(ev.Objects) > 0 {
		pretty := make([]string, len(ev.Objects))
		for i, o := range ev.Objects {
			pretty[i] = strings.ReplaceAll(o, "_", " ")
		}
		reasons = append(reasons, "Objects: "+strings.Join(pretty, ", "))
	}
	if len(ev.Colors) > 0 {
		reasons = append(reasons, "Colors: "+joinPairs(ev.Colors))
	}
	if len(ev.Materials) > 0 {
		reasons = append(reasons, "Materials: "+joinPairs(ev.Materials))
	}
	return reasons
}

func joinPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", strings.ReplaceAll(k, "_", " "), m[k]))
	}
	return strings.Join(parts, ", ")
}

func badge(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return "green"
	case confidence >= 0.7:
		return "yellow"
	default:
		return "red"
	}
}

// Package caption renders the English caption and the structured facts record
// from a finished vision analysis. The caption text is what gets embedded; the
// facts are what the retriever and the VLM prompt consume.
package caption

import (
	"fmt"
	"sort"
	"strings"

	"piclocate/internal/types"
	"piclocate/internal/vision"
)

// captionObjectLimit caps how many object groups the caption sentence names.
const captionObjectLimit = 3

// BuildFacts aggregates the analysis into the facts payload. Objects are
// grouped by (label, color, material) with counts; materials and colors are
// the distinct sets across all objects.
func BuildFacts(a *vision.Analysis) types.Facts {
	type groupKey struct {
		label, color, material string
	}
	groups := map[groupKey]int{}
	order := []groupKey{}
	for _, o := range a.Objects {
		k := groupKey{o.Label, o.ColorName, o.Material}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k]++
	}

	facts := types.Facts{
		Room:            a.Room,
		Style:           a.StyleTags,
		AnalysisPartial: a.Partial,
	}

	seenMat := map[string]bool{}
	seenCol := map[string]bool{}
	for _, k := range order {
		facts.Objects = append(facts.Objects, types.FactObject{
			Label:    k.label,
			Count:    groups[k],
			Color:    k.color,
			Material: materialOrEmpty(k.material),
		})
		if k.material != "" && k.material != "unknown" && !seenMat[k.material] {
			seenMat[k.material] = true
			facts.Materials = append(facts.Materials, k.material)
		}
		if k.color != "" && !seenCol[k.color] {
			seenCol[k.color] = true
			facts.Colors = append(facts.Colors, k.color)
		}
	}
	sort.Strings(facts.Materials)
	sort.Strings(facts.Colors)

	// Biggest groups first so the caption names the salient furniture.
	sort.SliceStable(facts.Objects, func(i, j int) bool {
		return facts.Objects[i].Count > facts.Objects[j].Count
	})
	return facts
}

// Render produces the caption sentence, e.g. "Kitchen with black marble
// dining table, four wooden chairs; modern style."
func Render(facts types.Facts) string {
	var b strings.Builder
	b.WriteString(roomTitle(facts.Room))

	if len(facts.Objects) > 0 {
		b.WriteString(" with ")
		limit := len(facts.Objects)
		if limit > captionObjectLimit {
			limit = captionObjectLimit
		}
		parts := make([]string, 0, limit)
		for _, o := range facts.Objects[:limit] {
			parts = append(parts, describeObject(o))
		}
		b.WriteString(strings.Join(parts, ", "))
	}

	if len(facts.Style) > 0 {
		b.WriteString("; ")
		b.WriteString(strings.Join(facts.Style, " "))
		b.WriteString(" style")
	}
	b.WriteString(".")
	return b.String()
}

func describeObject(o types.FactObject) string {
	var parts []string
	if o.Count > 1 {
		parts = append(parts, countWord(o.Count))
	}
	if o.Color != "" {
		parts = append(parts, strings.ReplaceAll(o.Color, "_", " "))
	}
	if o.Material != "" {
		parts = append(parts, strings.ReplaceAll(o.Material, "_", " "))
	}
	label := strings.ReplaceAll(o.Label, "_", " ")
	if o.Count > 1 {
		label = pluralize(label)
	}
	parts = append(parts, label)
	return strings.Join(parts, " ")
}

func roomTitle(room string) string {
	if room == "" || room == "unknown" {
		return "Room"
	}
	words := strings.Split(room, "_")
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}

var smallCounts = []string{"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

func countWord(n int) string {
	if n > 0 && n < len(smallCounts) {
		return smallCounts[n]
	}
	return fmt.Sprintf("%d", n)
}

func pluralize(noun string) string {
	switch {
	case strings.HasSuffix(noun, "shelf"):
		return strings.TrimSuffix(noun, "f") + "ves"
	case strings.HasSuffix(noun, "s"), strings.HasSuffix(noun, "sh"), strings.HasSuffix(noun, "ch"):
		return noun + "es"
	default:
		return noun + "s"
	}
}

func materialOrEmpty(m string) string {
	if m == "unknown" {
		return ""
	}
	return m
}

// DeriveTags computes the denormalized tag set for an image: its room, every
// object label, every object color, every material, and every style tag.
func DeriveTags(room string, objects []types.Object, styleTags []string) []string {
	set := map[string]bool{}
	if room != "" {
		set["room:"+room] = true
	}
	for _, o := range objects {
		set["obj:"+o.Label] = true
		if o.ColorName != "" {
			set["col:"+o.ColorName] = true
		}
		if o.Material != "" && o.Material != "unknown" {
			set["mat:"+o.Material] = true
		}
	}
	for _, s := range styleTags {
		set["style:"+s] = true
	}

	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

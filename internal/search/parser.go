// Package search implements the three-stage pipeline: hybrid retrieval,
// batched VLM verification, and blended re-ranking.
package search

import (
	"strings"

	"piclocate/internal/logging"
	"piclocate/internal/types"
)

// Phrase tables for the structured-filter extraction. Multi-word phrases are
// matched before their single-word suffixes ("dining table" before "table").

var roomPhrases = map[string]string{
	"living room":   "living_room",
	"dining room":   "dining_room",
	"kids room":     "kids_room",
	"children room": "kids_room",
	"laundry room":  "laundry",
	"outdoor patio": "outdoor_patio",
	"kitchen":       "kitchen",
	"bedroom":       "bedroom",
	"bathroom":      "bathroom",
	"office":        "office",
	"hallway":       "hallway",
	"corridor":      "hallway",
	"balcony":       "balcony",
	"laundry":       "laundry",
	"garage":        "garage",
	"patio":         "outdoor_patio",
	"entryway":      "entryway",
	"entrance":      "entryway",
}

var objectPhrases = map[string]string{
	"dining table":    "dining_table",
	"coffee table":    "coffee_table",
	"kitchen island":  "kitchen_island",
	"range hood":      "range_hood",
	"washing machine": "washer",
	"night stand":     "desk",
	"sofa":            "sofa",
	"couch":           "sofa",
	"refrigerator":    "refrigerator",
	"fridge":          "refrigerator",
	"oven":            "oven",
	"stove":           "stove",
	"cooktop":         "stove",
	"microwave":       "microwave",
	"sink":            "sink",
	"bed":             "bed",
	"toilet":          "toilet",
	"shower":          "shower",
	"bathtub":         "bathtub",
	"tub":             "bathtub",
	"wardrobe":        "wardrobe",
	"closet":          "wardrobe",
	"desk":            "desk",
	"tv":              "tv",
	"television":      "tv",
	"chair":           "chair",
	"chairs":          "chair",
	"armchair":        "chair",
	"washer":          "washer",
	"dryer":           "dryer",
	"table":           "table",
	"lamp":            "lamp",
	"cabinet":         "cabinet",
	"cupboard":        "cabinet",
	"mirror":          "mirror",
	"rug":             "rug",
	"carpet":          "rug",
	"curtain":         "curtain",
	"curtains":        "curtain",
	"countertop":      "countertop",
	"counter":         "countertop",
}

var colorPhrases = map[string]string{
	"dark gray":  "dark_gray",
	"dark grey":  "dark_gray",
	"light gray": "light_gray",
	"light grey": "light_gray",
	"navy blue":  "navy",
	"black":      "black",
	"white":      "white",
	"gray":       "gray",
	"grey":       "gray",
	"brown":      "brown",
	"beige":      "beige",
	"cream":      "cream",
	"red":        "red",
	"blue":       "blue",
	"navy":       "navy",
	"green":      "green",
	"yellow":     "yellow",
	"purple":     "purple",
	"pink":       "pink",
	"orange":     "orange",
	"silver":     "silver",
	"gold":       "gold",
	"golden":     "gold",
}

var materialPhrases = map[string]string{
	"stainless steel": "stainless_steel",
	"stainless":       "stainless_steel",
	"marble":          "marble",
	"wood":            "wood",
	"wooden":          "wood",
	"granite":         "granite",
	"glass":           "glass",
	"metal":           "metal",
	"metallic":        "metal",
	"fabric":          "fabric",
	"leather":         "leather",
	"tile":            "tile",
	"tiled":           "tile",
	"stone":           "stone",
	"concrete":        "concrete",
	"plastic":         "plastic",
}

// token is one unit of the scanned query with its classification.
type token struct {
	kind  tokenKind
	value string // canonical value for typed kinds, surface text otherwise
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokRoom
	tokObject
	tokColor
	tokMaterial
)

// ParseQuery normalizes the query (translating Hebrew when detected or
// requested) and extracts the structured filters.
func ParseQuery(query, lang string) *types.ParsedQuery {
	log := logging.Get(logging.CategorySearch)

	if lang == "auto" || lang == "" {
		if containsHebrew(query) {
			lang = "he"
		} else {
			lang = "en"
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(query))
	if lang == "he" {
		normalized = strings.ToLower(translateHebrew(query))
		log.Debug("translated query: %q -> %q", query, normalized)
	}

	tokens := scan(normalized)

	parsed := &types.ParsedQuery{NormalizedText: normalized}
	for _, t := range tokens {
		if t.kind == tokRoom && parsed.Room == "" {
			parsed.Room = t.value
		}
	}

	// Objects in order of appearance, with the preceding color/material
	// adjectives attached ("black marble table" => one filter).
	var pendingColor, pendingMaterial string
	for _, t := range tokens {
		switch t.kind {
		case tokColor:
			pendingColor = t.value
		case tokMaterial:
			pendingMaterial = t.value
		case tokObject:
			parsed.Objects = append(parsed.Objects, types.ObjectFilter{
				Label:    t.value,
				Color:    pendingColor,
				Material: pendingMaterial,
			})
			pendingColor, pendingMaterial = "", ""
		case tokRoom:
			// A room keyword breaks attachment; the adjectives become free
			// filters instead of vanishing.
			if pendingColor != "" {
				parsed.FreeColors = append(parsed.FreeColors, pendingColor)
			}
			if pendingMaterial != "" {
				parsed.FreeMaterials = append(parsed.FreeMaterials, pendingMaterial)
			}
			pendingColor, pendingMaterial = "", ""
		}
	}
	// Adjectives with no following object become free filters.
	if pendingColor != "" {
		parsed.FreeColors = append(parsed.FreeColors, pendingColor)
	}
	if pendingMaterial != "" {
		parsed.FreeMaterials = append(parsed.FreeMaterials, pendingMaterial)
	}

	log.Debug("parsed query: room=%q objects=%d free_colors=%v free_materials=%v",
		parsed.Room, len(parsed.Objects), parsed.FreeColors, parsed.FreeMaterials)
	return parsed
}

// scan tokenizes and classifies with greedy longest-phrase matching, trying
// trigrams, then bigrams, then single words at each position.
func scan(normalized string) []token {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == ';' || r == '!' || r == '?'
	})

	var tokens []token
	for i := 0; i < len(words); {
		matched := false
		for n := 3; n >= 1 && !matched; n-- {
			if i+n > len(words) {
				continue
			}
			phrase := strings.Join(words[i:i+n], " ")
			if room, ok := roomPhrases[phrase]; ok {
				tokens = append(tokens, token{tokRoom, room})
			} else if obj, ok := objectPhrases[phrase]; ok {
				tokens = append(tokens, token{tokObject, obj})
			} else if col, ok := colorPhrases[phrase]; ok {
				tokens = append(tokens, token{tokColor, col})
			} else if mat, ok := materialPhrases[phrase]; ok {
				tokens = append(tokens, token{tokMaterial, mat})
			} else {
				continue
			}
			i += n
			matched = true
		}
		if !matched {
			tokens = append(tokens, token{tokWord, words[i]})
			i++
		}
	}
	return tokens
}

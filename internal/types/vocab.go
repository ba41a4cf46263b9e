package types

// Canonical vocabularies shared by the vision analyzer, the query parser and
// the store. These sets are closed; the detector's raw labels are mapped onto
// them before anything is persisted.

// Rooms is the closed room vocabulary.
var Rooms = []string{
	"kitchen", "living_room", "bedroom", "bathroom", "dining_room",
	"office", "hallway", "balcony", "kids_room", "laundry",
	"garage", "outdoor_patio", "entryway", "unknown",
}

// ObjectLabels is the closed canonical object vocabulary.
var ObjectLabels = []string{
	"dining_table", "sofa", "refrigerator", "oven", "sink", "bed",
	"toilet", "shower", "bathtub", "wardrobe", "desk", "tv",
	"coffee_table", "kitchen_island", "stove", "range_hood", "microwave",
	"chair", "washer", "dryer", "table", "lamp", "cabinet", "mirror",
	"rug", "curtain", "countertop",
}

// ColorPalette is the fixed 18-name color palette. Object.ColorName must be a
// member.
var ColorPalette = []string{
	"black", "white", "gray", "dark_gray", "light_gray",
	"brown", "beige", "cream", "red", "blue", "navy",
	"green", "yellow", "purple", "pink", "orange", "silver", "gold",
}

// Materials is the closed material vocabulary, plus "unknown".
var Materials = []string{
	"marble", "wood", "granite", "glass", "metal", "stainless_steel",
	"fabric", "leather", "tile", "stone", "concrete", "plastic",
}

var (
	roomSet     = toSet(Rooms)
	labelSet    = toSet(ObjectLabels)
	colorSet    = toSet(ColorPalette)
	materialSet = toSet(Materials)
)

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

// IsRoom reports whether r is a member of the room vocabulary.
func IsRoom(r string) bool { _, ok := roomSet[r]; return ok }

// IsObjectLabel reports whether l is a canonical object label.
func IsObjectLabel(l string) bool { _, ok := labelSet[l]; return ok }

// IsPaletteColor reports whether c is one of the 18 palette names.
func IsPaletteColor(c string) bool { _, ok := colorSet[c]; return ok }

// IsMaterial reports whether m is a known material name.
func IsMaterial(m string) bool { _, ok := materialSet[m]; return ok }

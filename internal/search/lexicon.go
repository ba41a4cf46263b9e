package search

import "strings"

// hebrewLexicon is the curated word-by-word translation table applied to
// Hebrew queries before parsing. Multi-word phrases are matched longest-first.
// The English side uses the same surface forms the parser's phrase tables
// understand.
var hebrewLexicon = map[string]string{
	// rooms
	"מטבח":       "kitchen",
	"סלון":       "living room",
	"חדר מגורים": "living room",
	"חדר שינה":   "bedroom",
	"אמבטיה":     "bathroom",
	"חדר אמבטיה": "bathroom",
	"שירותים":    "bathroom",
	"פינת אוכל":  "dining room",
	"חדר אוכל":   "dining room",
	"משרד":       "office",
	"חדר עבודה":  "office",
	"מסדרון":     "hallway",
	"מרפסת":      "balcony",
	"חדר ילדים":  "kids room",
	"חדר כביסה":  "laundry room",
	"מוסך":       "garage",
	"חניה":       "garage",
	"פטיו":       "patio",
	"כניסה":      "entryway",

	// objects
	"שולחן":        "table",
	"שולחן אוכל":   "dining table",
	"שולחן קפה":    "coffee table",
	"שולחן כתיבה":  "desk",
	"ספה":          "sofa",
	"מקרר":         "refrigerator",
	"תנור":         "oven",
	"כיריים":       "stove",
	"קולט אדים":    "range hood",
	"מיקרוגל":      "microwave",
	"כיור":         "sink",
	"מיטה":         "bed",
	"אסלה":         "toilet",
	"מקלחת":        "shower",
	"אמבט":         "bathtub",
	"ארון":         "cabinet",
	"ארון בגדים":   "wardrobe",
	"טלוויזיה":     "tv",
	"אי מטבח":      "kitchen island",
	"כיסא":         "chair",
	"כסא":          "chair",
	"כיסאות":       "chair",
	"מכונת כביסה":  "washing machine",
	"מייבש":        "dryer",
	"מייבש כביסה":  "dryer",
	"מנורה":        "lamp",
	"מראה":         "mirror",
	"שטיח":         "rug",
	"וילון":        "curtain",
	"וילונות":      "curtain",
	"משטח":         "countertop",
	"משטח עבודה":   "countertop",

	// colors
	"שחור":     "black",
	"שחורה":    "black",
	"לבן":      "white",
	"לבנה":     "white",
	"אפור":     "gray",
	"אפורה":    "gray",
	"חום":      "brown",
	"חומה":     "brown",
	"בז":       "beige",
	"קרם":      "cream",
	"אדום":     "red",
	"אדומה":    "red",
	"כחול":     "blue",
	"כחולה":    "blue",
	"כחול כהה": "navy",
	"ירוק":     "green",
	"ירוקה":    "green",
	"צהוב":     "yellow",
	"צהובה":    "yellow",
	"סגול":     "purple",
	"ורוד":     "pink",
	"כתום":     "orange",
	"כסוף":     "silver",
	"זהב":      "gold",
	"מוזהב":    "gold",

	// materials
	"שיש":     "marble",
	"עץ":      "wood",
	"מעץ":     "wood",
	"גרניט":   "granite",
	"זכוכית":  "glass",
	"מזכוכית": "glass",
	"מתכת":    "metal",
	"ממתכת":   "metal",
	"נירוסטה": "stainless steel",
	"בד":      "fabric",
	"עור":     "leather",
	"מעור":    "leather",
	"אריח":    "tile",
	"קרמיקה":  "tile",
	"אבן":     "stone",
	"בטון":    "concrete",
	"פלסטיק":  "plastic",

	// connectives that survive translation
	"עם": "with",
	"ו":  "and",
}

// translateHebrew rewrites a Hebrew query into English using the lexicon.
// Bigrams are tried before single words so compound phrases win. Words with
// no entry pass through unchanged; the VLM sees the original query anyway.
func translateHebrew(query string) string {
	words := strings.Fields(query)
	var out []string
	for i := 0; i < len(words); i++ {
		w := strings.Trim(words[i], ".,!?;:\"'()")
		if i+1 < len(words) {
			next := strings.Trim(words[i+1], ".,!?;:\"'()")
			if t, ok := hebrewLexicon[w+" "+next]; ok {
				out = append(out, t)
				i++
				continue
			}
		}
		// Strip the common prefixes (ha-, be-, ve-) before lookup.
		if t, ok := lookupWithPrefixes(w); ok {
			out = append(out, t)
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

var hebrewPrefixes = []string{"ה", "ב", "ל", "ו", "מה", "וה", "בה", "שה"}

func lookupWithPrefixes(w string) (string, bool) {
	if t, ok := hebrewLexicon[w]; ok {
		return t, true
	}
	for _, p := range hebrewPrefixes {
		if strings.HasPrefix(w, p) {
			if t, ok := hebrewLexicon[strings.TrimPrefix(w, p)]; ok {
				return t, true
			}
		}
	}
	return "", false
}

// containsHebrew reports whether s holds any Hebrew letter.
func containsHebrew(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}

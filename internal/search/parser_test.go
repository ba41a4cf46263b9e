package search

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"piclocate/internal/types"
)

func TestParseQueryEnglish(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  types.ParsedQuery
	}{
		{
			name:  "room only",
			query: "kitchen",
			want: types.ParsedQuery{
				Room:           "kitchen",
				NormalizedText: "kitchen",
			},
		},
		{
			name:  "compound room wins over single word",
			query: "living room with a couch",
			want: types.ParsedQuery{
				Room:           "living_room",
				Objects:        []types.ObjectFilter{{Label: "sofa"}},
				NormalizedText: "living room with a couch",
			},
		},
		{
			name:  "color attaches to following object",
			query: "black table in the kitchen",
			want: types.ParsedQuery{
				Room:           "kitchen",
				Objects:        []types.ObjectFilter{{Label: "table", Color: "black"}},
				NormalizedText: "black table in the kitchen",
			},
		},
		{
			name:  "material and color attach together",
			query: "black marble dining table",
			want: types.ParsedQuery{
				Objects:        []types.ObjectFilter{{Label: "dining_table", Color: "black", Material: "marble"}},
				NormalizedText: "black marble dining table",
			},
		},
		{
			name:  "unattached color becomes free filter",
			query: "something navy",
			want: types.ParsedQuery{
				FreeColors:     []string{"navy"},
				NormalizedText: "something navy",
			},
		},
		{
			name:  "material phrase longest match",
			query: "stainless steel refrigerator",
			want: types.ParsedQuery{
				Objects:        []types.ObjectFilter{{Label: "refrigerator", Material: "stainless_steel"}},
				NormalizedText: "stainless steel refrigerator",
			},
		},
		{
			name:  "bathroom with marble countertop",
			query: "bathroom with marble countertop",
			want: types.ParsedQuery{
				Room:           "bathroom",
				Objects:        []types.ObjectFilter{{Label: "countertop", Material: "marble"}},
				NormalizedText: "bathroom with marble countertop",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseQuery(tt.query, "en")
			if diff := cmp.Diff(&tt.want, got); diff != "" {
				t.Errorf("ParseQuery mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseQueryHebrew(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantRoom  string
		wantObjs  []types.ObjectFilter
	}{
		{
			name:     "black table in kitchen",
			query:    "שולחן שחור במטבח",
			wantRoom: "kitchen",
			// Hebrew puts the adjective after the noun, so the color stays a
			// free filter rather than attaching to the table.
			wantObjs: []types.ObjectFilter{{Label: "table"}},
		},
		{
			name:     "dining table compound",
			query:    "שולחן אוכל",
			wantObjs: []types.ObjectFilter{{Label: "dining_table"}},
		},
		{
			name:     "marble in bathroom",
			query:    "שיש באמבטיה",
			wantRoom: "bathroom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseQuery(tt.query, "auto")
			if got.Room != tt.wantRoom {
				t.Errorf("room = %q, want %q", got.Room, tt.wantRoom)
			}
			if diff := cmp.Diff(tt.wantObjs, got.Objects); diff != "" {
				t.Errorf("objects mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseQueryAutoDetection(t *testing.T) {
	if got := ParseQuery("מטבח", "auto"); got.Room != "kitchen" {
		t.Errorf("auto-detected Hebrew: room = %q, want kitchen", got.Room)
	}
	if got := ParseQuery("kitchen", "auto"); got.Room != "kitchen" {
		t.Errorf("auto-detected English: room = %q, want kitchen", got.Room)
	}
}

func TestTranslateHebrewLexiconRoundTrip(t *testing.T) {
	// Every single-word lexicon entry must translate to a phrase the English
	// parser understands as a typed token or a plain word.
	if len(hebrewLexicon) < 45 {
		t.Fatalf("lexicon has %d entries, want at least 45", len(hebrewLexicon))
	}
	for he, en := range hebrewLexicon {
		got := translateHebrew(he)
		if got != en {
			t.Errorf("translateHebrew(%q) = %q, want %q", he, got, en)
		}
	}
}

func TestContainsHebrew(t *testing.T) {
	if !containsHebrew("יש כאן עברית") {
		t.Error("Hebrew text not detected")
	}
	if containsHebrew("english only") {
		t.Error("false positive on English text")
	}
	if !containsHebrew("mixed מטבח query") {
		t.Error("mixed text not detected")
	}
}

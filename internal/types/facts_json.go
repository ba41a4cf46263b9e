package types

import "encoding/json"

// Facts round-trips unknown keys through Extra so newer writers do not lose
// data when older binaries rewrite a row.

type factsKnown struct {
	Room            string       `json:"room"`
	Objects         []FactObject `json:"objects"`
	Materials       []string     `json:"materials"`
	Colors          []string     `json:"colors"`
	Style           []string     `json:"style"`
	AnalysisPartial bool         `json:"analysis_partial,omitempty"`
}

var knownFactKeys = map[string]bool{
	"room": true, "objects": true, "materials": true,
	"colors": true, "style": true, "analysis_partial": true,
}

// MarshalJSON emits the typed keys plus any Extra keys.
func (f Facts) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(factsKnown{
		Room:            f.Room,
		Objects:         f.Objects,
		Materials:       f.Materials,
		Colors:          f.Colors,
		Style:           f.Style,
		AnalysisPartial: f.AnalysisPartial,
	})
	if err != nil || len(f.Extra) == 0 {
		return base, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.Extra {
		if knownFactKeys[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the typed keys and stashes the rest in Extra.
func (f *Facts) UnmarshalJSON(data []byte) error {
	var known factsKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	f.Room = known.Room
	f.Objects = known.Objects
	f.Materials = known.Materials
	f.Colors = known.Colors
	f.Style = known.Style
	f.AnalysisPartial = known.AnalysisPartial

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	f.Extra = nil
	for k, v := range all {
		if knownFactKeys[k] {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		f.Extra[k] = val
	}
	return nil
}

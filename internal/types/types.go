// Package types holds the shared domain records for PicLocate: the five-entity
// data model populated by the indexing pipeline and the request/response shapes
// exchanged by the three-stage search pipeline.
package types

import "time"

// Image is the root entity. One row per file in the source store.
type Image struct {
	ID             string     `json:"id"`
	ExternalID     string     `json:"external_id"`
	FileName       string     `json:"file_name"`
	FolderPath     string     `json:"folder_path"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	PHash          uint64     `json:"phash"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
	Room           string     `json:"room"`
	RoomConfidence float64    `json:"room_confidence"`
	StyleTags      []string   `json:"style_tags"`
	IndexedAt      time.Time  `json:"indexed_at"`
}

// BBox is a pixel-space bounding box.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area returns the box area in pixels.
func (b BBox) Area() int { return b.W * b.H }

// LAB is a CIELAB color. L in [0,100], a and b in [-128,127].
type LAB struct {
	L float64 `json:"L"`
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// ColorCluster is one dominant-color cluster extracted from an object crop.
type ColorCluster struct {
	Name  string  `json:"name"`
	Lab   LAB     `json:"lab"`
	Ratio float64 `json:"ratio"`
}

// Object is a detected object inside an image, with per-object color and
// material facts.
type Object struct {
	ID                 string         `json:"id"`
	ImageID            string         `json:"image_id"`
	Label              string         `json:"label"`
	LabelConfidence    float64        `json:"label_confidence"`
	BBox               BBox           `json:"bbox"`
	ColorName          string         `json:"color_name"`
	ColorLab           LAB            `json:"color_lab"`
	SecondaryColors    []ColorCluster `json:"secondary_colors"`
	Material           string         `json:"material"`
	MaterialConfidence float64        `json:"material_confidence"`
	AreaPixels         int            `json:"area_pixels"`
}

// RoomScore is one calibrated room vote for an image. Scores across rooms are
// independent and do not sum to 1.
type RoomScore struct {
	ImageID string  `json:"image_id"`
	Room    string  `json:"room"`
	Score   float64 `json:"score"`
}

// FactObject is one entry in Facts.Objects.
type FactObject struct {
	Label    string `json:"label"`
	Count    int    `json:"count"`
	Color    string `json:"color,omitempty"`
	Material string `json:"material,omitempty"`
}

// Facts is the structured caption payload. Known keys are typed; Extra keeps
// forward-compatible keys round-tripping through the store.
type Facts struct {
	Room            string         `json:"room"`
	Objects         []FactObject   `json:"objects"`
	Materials       []string       `json:"materials"`
	Colors          []string       `json:"colors"`
	Style           []string       `json:"style"`
	AnalysisPartial bool           `json:"analysis_partial,omitempty"`
	Extra           map[string]any `json:"-"`
}

// Caption is the rendered English caption and its embedding for an image.
// Hebrew captions are never materialized; Hebrew queries are translated.
type Caption struct {
	ImageID   string    `json:"image_id"`
	CaptionEN string    `json:"caption_en"`
	Facts     Facts     `json:"facts"`
	EmbedEN   []float32 `json:"embed_en,omitempty"`
}

// Tag is a denormalized filter key of the form room:<r>, obj:<l>, col:<c>,
// mat:<m> or style:<s>.
type Tag struct {
	ImageID string `json:"image_id"`
	Tag     string `json:"tag"`
}

// IndexedImage bundles everything the persister writes in one transaction.
type IndexedImage struct {
	Image      Image
	Objects    []Object
	RoomScores []RoomScore
	Caption    Caption
	Tags       []string
}

// WorkItem is one file discovered by the crawler.
type WorkItem struct {
	ExternalID string
	Path       string
	Name       string
	MIME       string
	ModTime    time.Time
}

// ObjectFilter is a structured object constraint parsed from a query, with
// optional color and material attachments.
type ObjectFilter struct {
	Label    string `json:"label"`
	Color    string `json:"color,omitempty"`
	Material string `json:"material,omitempty"`
}

// ParsedQuery is the output of the query parser and translator.
type ParsedQuery struct {
	Room           string         `json:"room,omitempty"`
	Objects        []ObjectFilter `json:"objects"`
	FreeColors     []string       `json:"free_colors"`
	FreeMaterials  []string       `json:"free_materials"`
	NormalizedText string         `json:"normalized_text"`
}

// RetrievalCandidate is one Stage A hit.
type RetrievalCandidate struct {
	ImageID        string  `json:"image_id"`
	ExternalID     string  `json:"external_id"`
	FileName       string  `json:"file_name"`
	FolderPath     string  `json:"folder_path"`
	Room           string  `json:"room"`
	RetrievalScore float64 `json:"retrieval_score"`
	Facts          Facts   `json:"facts"`
	SignedURL      string  `json:"signed_url"`
}

// Evidence is the per-image justification returned by the VLM.
type Evidence struct {
	Objects   []string          `json:"objects"`
	Colors    map[string]string `json:"colors"`
	Materials map[string]string `json:"materials"`
}

// VLMVerdict is the strict-JSON verdict for one candidate image.
type VLMVerdict struct {
	ImageID    string   `json:"image_id"`
	Matches    bool     `json:"matches"`
	Confidence float64  `json:"confidence"`
	Room       string   `json:"room,omitempty"`
	Evidence   Evidence `json:"evidence"`
	Notes      string   `json:"notes"`
}

// SearchResult is one Stage C survivor as served over HTTP.
type SearchResult struct {
	ImageID         string   `json:"image_id"`
	ExternalID      string   `json:"external_id"`
	FileName        string   `json:"file_name"`
	FolderPath      string   `json:"folder_path"`
	Room            string   `json:"room"`
	VLMConfidence   float64  `json:"vlm_confidence"`
	FinalScore      float64  `json:"final_score"`
	RetrievalScore  float64  `json:"retrieval_score"`
	Evidence        Evidence `json:"evidence"`
	MatchReasons    []string `json:"match_reasons"`
	AINotes         string   `json:"ai_notes"`
	ConfidenceBadge string   `json:"confidence_badge"`
}

// SearchResponse is the full /search payload.
type SearchResponse struct {
	Query           string         `json:"query"`
	TranslatedQuery string         `json:"translated_query"`
	Results         []SearchResult `json:"results"`
	TotalResults    int            `json:"total_results"`
	ProcessingMS    int64          `json:"processing_ms"`
	Partial         bool           `json:"partial,omitempty"`
}

// ProgressSnapshot is a copy of the indexer state, safe to serialize.
type ProgressSnapshot struct {
	IsRunning      bool       `json:"is_running"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ProcessedCount int        `json:"processed_count"`
	TotalCount     int        `json:"total_count"`
	CurrentFile    string     `json:"current_file,omitempty"`
	Errors         []string   `json:"errors"`
}

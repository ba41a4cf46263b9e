package index

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"piclocate/internal/apperr"
	"piclocate/internal/config"
	"piclocate/internal/source"
	"piclocate/internal/store"
	"piclocate/internal/types"
	"piclocate/internal/vision"
)

// fakeSource serves a small in-memory folder tree.
type fakeSource struct {
	folders map[string][]source.Entry
	files   map[string][]byte
	modTime time.Time
}

func (f *fakeSource) ListFolder(ctx context.Context, folderID string) ([]source.Entry, error) {
	entries, ok := f.folders[folderID]
	if !ok {
		return nil, apperr.Newf(apperr.KindInput, "no such folder %s", folderID)
	}
	return entries, nil
}

func (f *fakeSource) FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, time.Time{}, apperr.Newf(apperr.KindInput, "no such file %s", fileID)
	}
	return data, f.modTime, nil
}

func (f *fakeSource) SignedURL(fileID string) string {
	return "https://example.test/" + fileID
}

// fakeDetector returns a fixed kitchen scene for every image.
type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, imageBytes []byte) ([]vision.Detection, error) {
	return []vision.Detection{
		{Label: "refrigerator", Score: 0.9, BBox: types.BBox{X: 2, Y: 2, W: 20, H: 20}},
		{Label: "sink", Score: 0.8, BBox: types.BBox{X: 30, Y: 2, W: 15, H: 15}},
	}, nil
}

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, apperr.New(apperr.KindTransient, "embed unavailable")
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.EmbedDocument(ctx, text)
}

func (f *fakeEmbedder) Dimensions() int { return 4 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func testPNG(t *testing.T, tint uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{R: tint, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testSource(t *testing.T) *fakeSource {
	t.Helper()
	src := &fakeSource{
		folders: map[string][]source.Entry{},
		files:   map[string][]byte{},
		modTime: time.Now().UTC().Add(-time.Hour),
	}
	src.folders["root"] = []source.Entry{
		{ID: "sub", Name: "kitchen", MIME: source.FolderMIME},
		{ID: "f1", Name: "one.png", MIME: "image/png", ModTime: src.modTime},
		{ID: "skip", Name: "notes.txt", MIME: "text/plain", ModTime: src.modTime},
	}
	src.folders["sub"] = []source.Entry{
		{ID: "f2", Name: "two.png", MIME: "image/png", ModTime: src.modTime},
		{ID: "f3", Name: "three.png", MIME: "image/png", ModTime: src.modTime},
	}
	for i, id := range []string{"f1", "f2", "f3"} {
		src.files[id] = testPNG(t, uint8(40*i))
	}
	return src
}

func testPipelineConfig() config.IndexConfig {
	return config.IndexConfig{
		MaxImagePx:  256,
		Incremental: true,
		Fetchers:    2,
		Analyzers:   1,
		Embedders:   1,
		Persisters:  1,
	}
}

func newPipeline(t *testing.T, src source.Store, emb *fakeEmbedder) (*Pipeline, *store.Store, *Tracker) {
	t.Helper()
	st, err := store.New(":memory:", 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	tracker := NewTracker(nil)
	p := New(src, st, vision.NewAnalyzer(fakeDetector{}), emb, testPipelineConfig(), "root", tracker)
	return p, st, tracker
}

func TestPipelineIndexesTree(t *testing.T) {
	src := testSource(t)
	p, st, tracker := newPipeline(t, src, &fakeEmbedder{})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	n, err := st.CountImages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("indexed %d images, want 3", n)
	}

	snap := tracker.Snapshot()
	if snap.IsRunning {
		t.Error("tracker still running after Run")
	}
	if snap.ProcessedCount != 3 || snap.TotalCount != 3 {
		t.Errorf("progress = %d/%d, want 3/3", snap.ProcessedCount, snap.TotalCount)
	}
	if len(snap.Errors) != 0 {
		t.Errorf("unexpected errors: %v", snap.Errors)
	}

	// Indexed rows carry the analysis output.
	stats, err := st.CollectStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Objects != 6 {
		t.Errorf("objects = %d, want 6 (2 per image)", stats.Objects)
	}
	if stats.Embedded != 3 {
		t.Errorf("embedded = %d, want 3", stats.Embedded)
	}
	if stats.RoomCounts["kitchen"] != 3 {
		t.Errorf("room counts = %v", stats.RoomCounts)
	}
}

func TestPipelineIncrementalSkipsUnchanged(t *testing.T) {
	src := testSource(t)
	p, st, tracker := newPipeline(t, src, &fakeEmbedder{})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Second run with unchanged mod times discovers nothing.
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := tracker.Snapshot()
	if snap.TotalCount != 0 {
		t.Errorf("unchanged files rediscovered: total=%d", snap.TotalCount)
	}

	// Touch one file: exactly that file is re-indexed.
	src.folders["root"][1].ModTime = time.Now().UTC().Add(time.Hour)
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap = tracker.Snapshot()
	if snap.TotalCount != 1 || snap.ProcessedCount != 1 {
		t.Errorf("touched file run = %d/%d, want 1/1", snap.ProcessedCount, snap.TotalCount)
	}
	n, err := st.CountImages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("re-index duplicated images: %d", n)
	}
}

func TestPipelineEmbedFailureDegrades(t *testing.T) {
	src := testSource(t)
	p, st, tracker := newPipeline(t, src, &fakeEmbedder{fail: true})

	// Shrink the retry schedule so the test stays fast.
	oldDelays := embedRetryDelays
	embedRetryDelays = []time.Duration{time.Millisecond}
	defer func() { embedRetryDelays = oldDelays }()

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// All images persisted, none embedded, errors recorded.
	n, err := st.CountImages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("images = %d, want 3", n)
	}
	stats, err := st.CollectStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Embedded != 0 {
		t.Errorf("embedded = %d, want 0", stats.Embedded)
	}
	if len(tracker.Snapshot().Errors) != 3 {
		t.Errorf("errors = %v", tracker.Snapshot().Errors)
	}
}

func TestPipelineRefusesConcurrentRun(t *testing.T) {
	src := testSource(t)
	p, _, tracker := newPipeline(t, src, &fakeEmbedder{})

	if !tracker.Start() {
		t.Fatal("manual start failed")
	}
	err := p.Run(context.Background())
	if err == nil || !apperr.IsInput(err) {
		t.Errorf("expected input error for concurrent run, got %v", err)
	}
	tracker.Finish()
}

func TestPipelineRecordsDecodeFailures(t *testing.T) {
	src := testSource(t)
	src.files["f1"] = []byte("definitely not an image")
	p, st, tracker := newPipeline(t, src, &fakeEmbedder{})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	n, err := st.CountImages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("images = %d, want 2", n)
	}
	snap := tracker.Snapshot()
	found := false
	for _, e := range snap.Errors {
		if strings.Contains(e, "decode one.png") {
			found = true
		}
	}
	if !found {
		t.Errorf("decode failure not recorded: %v", snap.Errors)
	}
}

package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"piclocate/internal/config"
	"piclocate/internal/store"
	"piclocate/internal/types"
)

// blockingGenerator never answers; it holds the call until the context dies.
type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, system, user string, images []ImageRef) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingGenerator) ModelID() string { return "blocking" }

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	rec := &types.IndexedImage{
		Image: types.Image{
			ID: "img-1", ExternalID: "ext-1", FileName: "kitchen.jpg", FolderPath: "/photos",
			Room: "kitchen", RoomConfidence: 0.9, IndexedAt: time.Now().UTC(),
		},
		Caption: types.Caption{ImageID: "img-1", CaptionEN: "Kitchen.", Facts: types.Facts{Room: "kitchen"}},
		Tags:    []string{"room:kitchen"},
	}
	if err := st.UpsertImage(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSearchDeadlineReturnsPartial(t *testing.T) {
	st := seededStore(t)
	verifier := NewVerifier(blockingGenerator{}, nil, testVLMConfig())
	engine := NewEngine(st, nil, verifier, nil, config.SearchConfig{
		TopK: 10, Cutoff: 0.7, FinalLimit: 5, Alpha: 0.75,
		RequestDeadline: 150 * time.Millisecond,
	}, time.Second)

	resp, err := engine.Search(context.Background(), "kitchen", "en", 0)
	if err != nil {
		t.Fatalf("deadline exhaustion must not fail the request: %v", err)
	}
	if !resp.Partial {
		t.Error("response not marked partial after verification timed out")
	}
	if resp.TotalResults != 0 {
		t.Errorf("unverified candidates served: %d results", resp.TotalResults)
	}
}

func TestVerifyDeadlineSurfacesContextError(t *testing.T) {
	cands := []types.RetrievalCandidate{
		{ImageID: "a", ExternalID: "ext-a", FileName: "a.jpg"},
		{ImageID: "b", ExternalID: "ext-b", FileName: "b.jpg"},
	}
	v := NewVerifier(blockingGenerator{}, nil, testVLMConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	verdicts, err := v.Verify(ctx, "q", "q", cands, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context.DeadlineExceeded, got %v", err)
	}
	// Cancellation is not a parse failure: timed-out candidates get no
	// negative verdict and nothing is cached for them.
	for id, verdict := range verdicts {
		if verdict.Notes == "parse_error" {
			t.Errorf("cancellation misreported as parse_error for %s", id)
		}
	}
	if got := v.Cache().Len(); got != 0 {
		t.Errorf("timed-out batch left %d cache entries", got)
	}
}

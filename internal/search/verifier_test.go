package search

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"piclocate/internal/config"
	"piclocate/internal/types"
)

// fakeGenerator returns scripted replies and counts calls.
type fakeGenerator struct {
	calls   atomic.Int64
	replies []string // consumed in order; last one repeats
}

func (f *fakeGenerator) Generate(ctx context.Context, system, user string, images []ImageRef) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.replies) {
		n = len(f.replies) - 1
	}
	return f.replies[n], nil
}

func (f *fakeGenerator) ModelID() string { return "fake-model" }

func testVLMConfig() config.VLMConfig {
	return config.VLMConfig{
		BatchSize:    12,
		Concurrency:  2,
		CacheTTLDays: 1,
		CacheMax:     1000,
		RatePerSec:   1000, // effectively unlimited in tests
	}
}

func verdictJSON(t *testing.T, verdicts []types.VLMVerdict) string {
	t.Helper()
	b, err := json.Marshal(verdicts)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestVerifyParsesVerdicts(t *testing.T) {
	cands := []types.RetrievalCandidate{
		{ImageID: "a", ExternalID: "ext-a", FileName: "a.jpg"},
		{ImageID: "b", ExternalID: "ext-b", FileName: "b.jpg"},
	}
	gen := &fakeGenerator{replies: []string{verdictJSON(t, []types.VLMVerdict{
		{ImageID: "a", Matches: true, Confidence: 0.9},
		{ImageID: "b", Matches: false, Confidence: 0.2},
	})}}
	v := NewVerifier(gen, nil, testVLMConfig())

	verdicts, err := v.Verify(context.Background(), "q", "q", cands, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("got %d verdicts", len(verdicts))
	}
	if !verdicts["a"].Matches || verdicts["b"].Matches {
		t.Errorf("wrong verdicts: %+v", verdicts)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("expected 1 provider call, got %d", gen.calls.Load())
	}
}

func TestVerifyCacheHitSkipsProvider(t *testing.T) {
	cands := []types.RetrievalCandidate{{ImageID: "a", ExternalID: "ext-a", FileName: "a.jpg"}}
	hashes := map[string]string{"a": "hash-a"}
	gen := &fakeGenerator{replies: []string{verdictJSON(t, []types.VLMVerdict{
		{ImageID: "a", Matches: true, Confidence: 0.9},
	})}}
	v := NewVerifier(gen, nil, testVLMConfig())

	if _, err := v.Verify(context.Background(), "q", "q", cands, hashes); err != nil {
		t.Fatal(err)
	}
	if gen.calls.Load() != 1 {
		t.Fatalf("first pass: %d calls", gen.calls.Load())
	}

	// Same query, same content: fully served from cache.
	verdicts, err := v.Verify(context.Background(), "q", "q", cands, hashes)
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("cache hit still called the provider (%d calls)", gen.calls.Load())
	}
	if !verdicts["a"].Matches {
		t.Error("cached verdict lost")
	}

	// Content change invalidates.
	hashes["a"] = "hash-b"
	if _, err := v.Verify(context.Background(), "q", "q", cands, hashes); err != nil {
		t.Fatal(err)
	}
	if gen.calls.Load() != 2 {
		t.Errorf("content change should re-verify, got %d calls", gen.calls.Load())
	}
}

func TestVerifyReformatRetry(t *testing.T) {
	cands := []types.RetrievalCandidate{{ImageID: "a", ExternalID: "ext-a", FileName: "a.jpg"}}
	good := verdictJSON(t, []types.VLMVerdict{{ImageID: "a", Matches: true, Confidence: 0.8}})
	gen := &fakeGenerator{replies: []string{"here you go: not json", good}}
	v := NewVerifier(gen, nil, testVLMConfig())

	verdicts, err := v.Verify(context.Background(), "q", "q", cands, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls.Load() != 2 {
		t.Fatalf("expected reformat retry, got %d calls", gen.calls.Load())
	}
	if !verdicts["a"].Matches {
		t.Error("verdict from retry lost")
	}
}

func TestVerifyParseErrorAfterTwoFailures(t *testing.T) {
	cands := []types.RetrievalCandidate{
		{ImageID: "a", ExternalID: "ext-a", FileName: "a.jpg"},
		{ImageID: "b", ExternalID: "ext-b", FileName: "b.jpg"},
	}
	gen := &fakeGenerator{replies: []string{"garbage", "still garbage"}}
	v := NewVerifier(gen, nil, testVLMConfig())

	verdicts, err := v.Verify(context.Background(), "q", "q", cands, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		verdict := verdicts[id]
		if verdict.Matches || verdict.Confidence != 0 || verdict.Notes != "parse_error" {
			t.Errorf("verdict[%s] = %+v, want parse_error negative", id, verdict)
		}
	}
	// parse_error verdicts must not poison the cache.
	gen.replies = []string{verdictJSON(t, []types.VLMVerdict{
		{ImageID: "a", Matches: true, Confidence: 0.9},
		{ImageID: "b", Matches: true, Confidence: 0.9},
	})}
	gen.calls.Store(0)
	verdicts, err = v.Verify(context.Background(), "q", "q", cands, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls.Load() == 0 {
		t.Fatal("parse_error verdict was cached")
	}
	if !verdicts["a"].Matches {
		t.Error("recovery verdict lost")
	}
}

func TestVerifyBatching(t *testing.T) {
	cfg := testVLMConfig()
	cfg.BatchSize = 2

	var cands []types.RetrievalCandidate
	var scripted []types.VLMVerdict
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cands = append(cands, types.RetrievalCandidate{ImageID: id, ExternalID: "ext-" + id, FileName: id + ".jpg"})
		scripted = append(scripted, types.VLMVerdict{ImageID: id, Matches: true, Confidence: 0.9})
	}
	// Every call returns all verdicts; parseVerdicts keeps only the batch
	// members, so each batch resolves correctly.
	gen := &fakeGenerator{replies: []string{verdictJSON(t, scripted)}}
	v := NewVerifier(gen, nil, cfg)

	verdicts, err := v.Verify(context.Background(), "q", "q", cands, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(verdicts) != 5 {
		t.Fatalf("got %d verdicts, want 5", len(verdicts))
	}
	if gen.calls.Load() != 3 {
		t.Errorf("5 candidates at batch size 2 should need 3 calls, got %d", gen.calls.Load())
	}
}

func TestParseVerdictsCodeFence(t *testing.T) {
	batch := []types.RetrievalCandidate{{ImageID: "a"}}
	raw := "```json\n[{\"image_id\":\"a\",\"matches\":true,\"confidence\":0.8,\"evidence\":{},\"notes\":\"\"}]\n```"
	got, err := parseVerdicts(raw, batch)
	if err != nil {
		t.Fatal(err)
	}
	if !got["a"].Matches {
		t.Error("fenced JSON not parsed")
	}
}

func TestParseVerdictsClampsConfidence(t *testing.T) {
	batch := []types.RetrievalCandidate{{ImageID: "a"}, {ImageID: "b"}}
	raw := `[{"image_id":"a","matches":true,"confidence":1.7},
	        {"image_id":"b","matches":true,"confidence":-0.2},
	        {"image_id":"stranger","matches":true,"confidence":0.9}]`
	got, err := parseVerdicts(raw, batch)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"].Confidence != 1 || got["b"].Confidence != 0 {
		t.Errorf("confidence not clamped: %+v", got)
	}
	if _, ok := got["stranger"]; ok {
		t.Error("verdict for unknown image id kept")
	}
}

package search

import (
	"context"
	"errors"
	"time"

	"piclocate/internal/config"
	"piclocate/internal/embedding"
	"piclocate/internal/logging"
	"piclocate/internal/store"
	"piclocate/internal/types"
)

// URLSigner resolves an external file id to a fetchable URL.
type URLSigner interface {
	SignedURL(fileID string) string
}

// Engine owns the full search pipeline: parser, retriever, verifier and
// re-ranker. One Engine serves all requests; there is no hidden global state.
type Engine struct {
	store    *store.Store
	embedder embedding.Engine
	verifier *Verifier
	signer   URLSigner
	cfg      config.SearchConfig
	embedTO  time.Duration
}

// NewEngine wires the pipeline.
func NewEngine(st *store.Store, emb embedding.Engine, verifier *Verifier, signer URLSigner, cfg config.SearchConfig, embedTimeout time.Duration) *Engine {
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}
	return &Engine{
		store:    st,
		embedder: emb,
		verifier: verifier,
		signer:   signer,
		cfg:      cfg,
		embedTO:  embedTimeout,
	}
}

// Search runs all three stages under the request deadline. On deadline
// exhaustion mid-verification, whatever passed Stage C so far is returned
// with Partial set.
func (e *Engine) Search(ctx context.Context, query, lang string, limit int) (*types.SearchResponse, error) {
	started := time.Now()
	timer := logging.StartTimer(logging.CategorySearch, "Search")
	defer timer.Stop()

	deadline := e.cfg.RequestDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if limit <= 0 || limit > e.cfg.FinalLimit {
		limit = e.cfg.FinalLimit
	}

	parsed := ParseQuery(query, lang)

	// Stage A: embed and retrieve. An embedding failure degrades to pure
	// structured filtering rather than failing the request.
	var queryVec []float32
	if e.embedder != nil && parsed.NormalizedText != "" {
		embedCtx, embedCancel := context.WithTimeout(ctx, e.embedTO)
		vec, err := e.embedder.EmbedQuery(embedCtx, parsed.NormalizedText)
		embedCancel()
		if err != nil {
			logging.Get(logging.CategorySearch).Warn("query embedding failed, using filters only: %v", err)
		} else {
			queryVec = vec
		}
	}

	cands, err := e.store.Candidates(ctx, parsed, queryVec, e.cfg.TopK)
	if err != nil {
		return nil, err
	}
	logging.Search("stage A: %d candidates for %q", len(cands), parsed.NormalizedText)

	contentHash := make(map[string]string, len(cands))
	for i := range cands {
		if e.signer != nil {
			cands[i].SignedURL = e.signer.SignedURL(cands[i].ExternalID)
		}
		if h, err := e.store.ContentHash(ctx, cands[i].ImageID); err == nil {
			contentHash[cands[i].ImageID] = h
		}
	}

	// Stage B.
	verdicts, verr := e.verifier.Verify(ctx, query, parsed.NormalizedText, cands, contentHash)
	partial := false
	if verr != nil {
		if errors.Is(verr, context.DeadlineExceeded) || errors.Is(verr, context.Canceled) {
			partial = true
			logging.Get(logging.CategorySearch).Warn("verification cut short, returning partial results")
		} else {
			return nil, verr
		}
	}

	// Stage C.
	results := Rerank(cands, verdicts, e.cfg.Cutoff, e.cfg.Alpha, limit)
	logging.Search("stage C: %d results (partial=%v) in %v", len(results), partial, time.Since(started))

	return &types.SearchResponse{
		Query:           query,
		TranslatedQuery: parsed.NormalizedText,
		Results:         results,
		TotalResults:    len(results),
		ProcessingMS:    time.Since(started).Milliseconds(),
		Partial:         partial,
	}, nil
}

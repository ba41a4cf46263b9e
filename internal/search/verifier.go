package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"piclocate/internal/config"
	"piclocate/internal/logging"
	"piclocate/internal/types"
)

// ImageRef is one candidate handed to the VLM: inline bytes when the fetch
// succeeded, the signed URL otherwise.
type ImageRef struct {
	ImageID   string
	SignedURL string
	Bytes     []byte
	MIME      string
}

// Generator is the multimodal model call. Implementations return the raw
// model text, which the verifier parses as strict JSON.
type Generator interface {
	Generate(ctx context.Context, system, user string, images []ImageRef) (string, error)
	ModelID() string
}

// ImageFetcher resolves candidate bytes for inline prompts. Fetch failures
// are tolerated; the image is then referenced by URL.
type ImageFetcher interface {
	FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error)
}

// verifierSystemPrompt frames the model as a careful visual verifier rather
// than a generator, which measurably reduces hallucinated matches.
const verifierSystemPrompt = `You are a careful visual verifier for an interior-photo search engine.
You are given a user query and a set of photographs. For each photograph decide
whether it truly matches the query. Judge only what is visible. Do not guess.
Report the room type, the objects relevant to the query, and their colors and
materials as evidence.`

// Backoff schedule for transient provider failures.
var vlmBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// Verifier runs Stage B: batched, cached, rate-limited VLM verification.
type Verifier struct {
	gen     Generator
	fetcher ImageFetcher
	cache   *VerdictCache
	bucket  *tokenBucket

	batchSize    int
	concurrency  int
	batchTimeout time.Duration
}

// NewVerifier wires the verifier from configuration.
func NewVerifier(gen Generator, fetcher ImageFetcher, cfg config.VLMConfig) *Verifier {
	ttl := time.Duration(cfg.CacheTTLDays) * 24 * time.Hour
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 12
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 4
	}
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Verifier{
		gen:          gen,
		fetcher:      fetcher,
		cache:        NewVerdictCache(cfg.CacheMax, ttl),
		bucket:       newTokenBucket(cfg.RatePerSec),
		batchSize:    batch,
		concurrency:  conc,
		batchTimeout: timeout,
	}
}

// Cache exposes the verdict cache for inspection.
func (v *Verifier) Cache() *VerdictCache { return v.cache }

// Verify returns one verdict per candidate, keyed by image id. Cache hits
// skip the provider entirely; misses are batched and dispatched in parallel.
// contentHash maps image id to its content fingerprint for the cache key.
func (v *Verifier) Verify(ctx context.Context, userQuery, normalizedQuery string, cands []types.RetrievalCandidate, contentHash map[string]string) (map[string]types.VLMVerdict, error) {
	timer := logging.StartTimer(logging.CategoryVLM, "Verify")
	defer timer.Stop()

	verdicts := make(map[string]types.VLMVerdict, len(cands))
	keys := make(map[string]string, len(cands))
	var misses []types.RetrievalCandidate

	for _, c := range cands {
		key := CacheKey(normalizedQuery, v.gen.ModelID(), c.ImageID, contentHash[c.ImageID])
		keys[c.ImageID] = key
		if verdict, ok := v.cache.Get(key); ok {
			verdicts[c.ImageID] = verdict
			continue
		}
		misses = append(misses, c)
	}
	logging.Get(logging.CategoryVLM).Info("verifying %d candidates (%d cached, %d batches)",
		len(cands), len(cands)-len(misses), (len(misses)+v.batchSize-1)/v.batchSize)

	if len(misses) == 0 {
		return verdicts, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for start := 0; start < len(misses); start += v.batchSize {
		end := start + v.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]
		g.Go(func() error {
			batchVerdicts, err := v.verifyBatch(gctx, userQuery, normalizedQuery, batch)
			mu.Lock()
			defer mu.Unlock()
			for id, verdict := range batchVerdicts {
				verdicts[id] = verdict
				if verdict.Notes != "parse_error" {
					v.cache.Put(keys[id], verdict)
				}
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		// Abandoned batches keep whatever verdicts landed before cancellation.
		return verdicts, err
	}
	return verdicts, nil
}

// verifyBatch runs one provider call with retries. Cancellation of the request
// context is surfaced as an error so the caller can report partial results; any
// other failure yields parse_error verdicts so Stage C can proceed with the
// rest.
func (v *Verifier) verifyBatch(ctx context.Context, userQuery, normalizedQuery string, batch []types.RetrievalCandidate) (map[string]types.VLMVerdict, error) {
	log := logging.Get(logging.CategoryVLM)

	refs := v.resolveRefs(ctx, batch)
	prompt := buildBatchPrompt(userQuery, normalizedQuery, batch)

	var raw string
	var err error
	for attempt := 0; ; attempt++ {
		if err = v.bucket.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, v.batchTimeout)
		raw, err = v.gen.Generate(callCtx, verifierSystemPrompt, prompt, refs)
		cancel()
		if err == nil {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if attempt >= len(vlmBackoff) {
			log.Error("batch verification failed after %d attempts: %v", attempt+1, err)
			return parseErrorVerdicts(batch), nil
		}
		log.Warn("batch verification attempt %d failed, backing off %v: %v", attempt+1, vlmBackoff[attempt], err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(vlmBackoff[attempt]):
		}
	}

	parsed, perr := parseVerdicts(raw, batch)
	if perr == nil {
		return parsed, nil
	}

	// One reformat round-trip, then give up on the batch.
	log.Warn("malformed verdict JSON, requesting reformat: %v", perr)
	reformat := prompt + "\n\nYour previous reply was not valid JSON. Respond again with ONLY the JSON array, no prose."
	callCtx, cancel := context.WithTimeout(ctx, v.batchTimeout)
	raw, err = v.gen.Generate(callCtx, verifierSystemPrompt, reformat, refs)
	cancel()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil {
		if parsed, perr = parseVerdicts(raw, batch); perr == nil {
			return parsed, nil
		}
	}
	log.Error("verdict parse failed twice, marking batch as parse_error")
	return parseErrorVerdicts(batch), nil
}

// resolveRefs fetches candidate bytes for inline prompting. A failed fetch
// downgrades that image to a URL reference.
func (v *Verifier) resolveRefs(ctx context.Context, batch []types.RetrievalCandidate) []ImageRef {
	refs := make([]ImageRef, 0, len(batch))
	for _, c := range batch {
		ref := ImageRef{ImageID: c.ImageID, SignedURL: c.SignedURL, MIME: "image/jpeg"}
		if v.fetcher != nil {
			if data, _, err := v.fetcher.FetchBytes(ctx, c.ExternalID); err == nil {
				ref.Bytes = data
			} else {
				logging.Get(logging.CategoryVLM).Debug("inline fetch failed for %s, using URL: %v", c.ExternalID, err)
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// buildBatchPrompt renders the user prompt: both query forms, the schema, and
// the candidate roster in presentation order.
func buildBatchPrompt(userQuery, normalizedQuery string, batch []types.RetrievalCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %q\n", userQuery)
	if normalizedQuery != "" && normalizedQuery != userQuery {
		fmt.Fprintf(&b, "Translated query: %q\n", normalizedQuery)
	}
	b.WriteString(`
Return ONLY a JSON array with exactly one object per image, in the order the
images appear, matching this schema:

[{"image_id": string,
  "matches": boolean,
  "confidence": number between 0 and 1,
  "room": string or null,
  "evidence": {"objects": [string], "colors": {"object": "color"}, "materials": {"object": "material"}},
  "notes": string}]

Images:
`)
	for i, c := range batch {
		fmt.Fprintf(&b, "%d. image_id=%s file=%s\n", i+1, c.ImageID, c.FileName)
	}
	return b.String()
}

// parseVerdicts decodes the model reply. Verdicts are matched to the batch by
// image_id; entries for unknown ids are dropped, batch members the model
// skipped get an explicit negative verdict.
func parseVerdicts(raw string, batch []types.RetrievalCandidate) (map[string]types.VLMVerdict, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a code fence despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var verdicts []types.VLMVerdict
	if err := json.Unmarshal([]byte(raw), &verdicts); err != nil {
		return nil, fmt.Errorf("verdict JSON: %w", err)
	}

	inBatch := make(map[string]bool, len(batch))
	for _, c := range batch {
		inBatch[c.ImageID] = true
	}

	out := make(map[string]types.VLMVerdict, len(batch))
	for _, verdict := range verdicts {
		if !inBatch[verdict.ImageID] {
			continue
		}
		if verdict.Confidence < 0 {
			verdict.Confidence = 0
		}
		if verdict.Confidence > 1 {
			verdict.Confidence = 1
		}
		out[verdict.ImageID] = verdict
	}
	for _, c := range batch {
		if _, ok := out[c.ImageID]; !ok {
			out[c.ImageID] = types.VLMVerdict{ImageID: c.ImageID, Notes: "missing_from_reply"}
		}
	}
	return out, nil
}

func parseErrorVerdicts(batch []types.RetrievalCandidate) map[string]types.VLMVerdict {
	out := make(map[string]types.VLMVerdict, len(batch))
	for _, c := range batch {
		out[c.ImageID] = types.VLMVerdict{ImageID: c.ImageID, Notes: "parse_error"}
	}
	return out
}

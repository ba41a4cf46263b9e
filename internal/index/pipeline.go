package index

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"piclocate/internal/apperr"
	"piclocate/internal/caption"
	"piclocate/internal/config"
	"piclocate/internal/embedding"
	"piclocate/internal/imaging"
	"piclocate/internal/logging"
	"piclocate/internal/source"
	"piclocate/internal/store"
	"piclocate/internal/types"
	"piclocate/internal/vision"
)

// Queue depths between stages.
const (
	crawlQueueDepth   = 256
	rasterQueueDepth  = 64
	analyzeQueueDepth = 64
	embedQueueDepth   = 32
	persistQueueDepth = 64
)

// progressSaveEvery controls how often the tracker is persisted.
const progressSaveEvery = 25

// embedRetryDelays is the in-pipeline retry schedule before an image is
// persisted without its vector.
var embedRetryDelays = []time.Duration{1 * time.Second, 4 * time.Second}

// fetched pairs a work item with its decoded raster.
type fetched struct {
	item   types.WorkItem
	raster *imaging.Raster
}

// analyzed adds the vision output.
type analyzed struct {
	item     types.WorkItem
	raster   *imaging.Raster
	analysis *vision.Analysis
}

// Pipeline indexes the source store into the local index.
type Pipeline struct {
	src      source.Store
	st       *store.Store
	analyzer *vision.Analyzer
	embedder embedding.Engine
	cfg      config.IndexConfig
	rootID   string
	tracker  *Tracker
}

// New creates a pipeline. The tracker is shared with the status surface.
func New(src source.Store, st *store.Store, analyzer *vision.Analyzer, embedder embedding.Engine, cfg config.IndexConfig, rootID string, tracker *Tracker) *Pipeline {
	return &Pipeline{
		src:      src,
		st:       st,
		analyzer: analyzer,
		embedder: embedder,
		cfg:      cfg,
		rootID:   rootID,
		tracker:  tracker,
	}
}

// Run executes one full crawl. It returns when every discovered file has been
// persisted or dropped, or when the context is canceled. Auth errors from the
// source store abort the whole run.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.tracker.Start() {
		return apperr.New(apperr.KindInput, "indexing already running")
	}
	defer p.tracker.Finish()
	defer func() {
		snap := p.tracker.Snapshot()
		snap.IsRunning = false
		if err := p.st.SaveProgress(context.Background(), &snap); err != nil {
			logging.Get(logging.CategoryProgress).Warn("final progress save failed: %v", err)
		}
	}()

	logging.Get(logging.CategoryProgress).Info("indexing run started (root=%s, incremental=%v)", p.rootID, p.cfg.Incremental)

	work := make(chan types.WorkItem, crawlQueueDepth)
	rasters := make(chan fetched, rasterQueueDepth)
	ready := make(chan analyzed, analyzeQueueDepth)
	persist := make(chan *types.IndexedImage, persistQueueDepth)

	g, ctx := errgroup.WithContext(ctx)

	// Crawler: single walker, closes work when traversal finishes.
	g.Go(func() error {
		defer close(work)
		return p.crawl(ctx, work)
	})

	// Fetchers.
	fetchers := p.cfg.Fetchers
	if fetchers <= 0 {
		fetchers = 8
	}
	fg, fctx := errgroup.WithContext(ctx)
	for i := 0; i < fetchers; i++ {
		fg.Go(func() error { return p.fetchLoop(fctx, work, rasters) })
	}
	g.Go(func() error {
		defer close(rasters)
		return fg.Wait()
	})

	// Vision analyzers: CPU bound, capped at min(CPU, configured).
	analyzers := p.cfg.Analyzers
	if analyzers <= 0 || analyzers > runtime.NumCPU() {
		analyzers = runtime.NumCPU()
	}
	if analyzers > 4 {
		analyzers = 4
	}
	ag, actx := errgroup.WithContext(ctx)
	for i := 0; i < analyzers; i++ {
		ag.Go(func() error { return p.analyzeLoop(actx, rasters, ready) })
	}
	g.Go(func() error {
		defer close(ready)
		return ag.Wait()
	})

	// Caption and embedding workers.
	embedders := p.cfg.Embedders
	if embedders <= 0 {
		embedders = 2
	}
	eg, ectx := errgroup.WithContext(ctx)
	for i := 0; i < embedders; i++ {
		eg.Go(func() error { return p.embedLoop(ectx, ready, persist) })
	}
	g.Go(func() error {
		defer close(persist)
		return eg.Wait()
	})

	// Persisters.
	persisters := p.cfg.Persisters
	if persisters <= 0 {
		persisters = 2
	}
	for i := 0; i < persisters; i++ {
		g.Go(func() error { return p.persistLoop(ctx, persist) })
	}

	err := g.Wait()
	snap := p.tracker.Snapshot()
	logging.Get(logging.CategoryProgress).Info("indexing run finished: processed=%d total=%d errors=%d",
		snap.ProcessedCount, snap.TotalCount, len(snap.Errors))
	return err
}

// crawl walks the folder tree depth-first, emitting supported files.
func (p *Pipeline) crawl(ctx context.Context, out chan<- types.WorkItem) error {
	log := logging.Get(logging.CategoryCrawler)

	type frame struct {
		id   string
		path string
	}
	stack := []frame{{id: p.rootID, path: "/"}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := p.src.ListFolder(ctx, f.id)
		if err != nil {
			if apperr.IsAuth(err) {
				log.Error("auth failure listing %s, aborting crawl: %v", f.path, err)
				return err
			}
			// Transient errors were already retried by the source layer.
			log.Warn("skipping folder %s: %v", f.path, err)
			p.tracker.RecordError(fmt.Sprintf("list %s: %v", f.path, err))
			continue
		}

		for _, e := range entries {
			if e.IsFolder() {
				stack = append(stack, frame{id: e.ID, path: path.Join(f.path, e.Name)})
				continue
			}
			if !imaging.SupportedMIME[e.MIME] {
				continue
			}
			if p.cfg.Incremental {
				indexedAt, err := p.st.IndexedAt(ctx, e.ID)
				if err == nil && !e.ModTime.After(indexedAt) {
					log.Debug("skipping unchanged %s", e.Name)
					continue
				}
			}

			p.tracker.AddTotal(1)
			item := types.WorkItem{
				ExternalID: e.ID,
				Path:       f.path,
				Name:       e.Name,
				MIME:       e.MIME,
				ModTime:    e.ModTime,
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	log.Info("crawl complete")
	return nil
}

// fetchLoop downloads and decodes. Decode failures drop the item.
func (p *Pipeline) fetchLoop(ctx context.Context, in <-chan types.WorkItem, out chan<- fetched) error {
	log := logging.Get(logging.CategoryFetcher)

	for item := range in {
		data, _, err := p.src.FetchBytes(ctx, item.ExternalID)
		if err != nil {
			if apperr.IsAuth(err) {
				return err
			}
			log.Warn("fetch failed for %s: %v", item.Name, err)
			p.tracker.RecordError(fmt.Sprintf("fetch %s: %v", item.Name, err))
			continue
		}

		raster, err := imaging.Decode(data, p.cfg.MaxImagePx)
		if err != nil {
			log.Warn("decode failed for %s, dropping: %v", item.Name, err)
			p.tracker.RecordError(fmt.Sprintf("decode %s: %v", item.Name, err))
			continue
		}

		// Perceptual-hash near-duplicates are logged, never suppressed.
		if dup, err := p.st.FindNearDuplicate(ctx, item.Path, raster.PHash, item.ExternalID, imaging.NearDuplicateThreshold); err == nil {
			log.Info("%s is a near-duplicate of %s (same folder)", item.Name, dup)
		}

		select {
		case out <- fetched{item: item, raster: raster}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// analyzeLoop runs the vision passes.
func (p *Pipeline) analyzeLoop(ctx context.Context, in <-chan fetched, out chan<- analyzed) error {
	for f := range in {
		analysis, err := p.analyzer.Analyze(ctx, f.raster)
		if err != nil {
			// Analyze only fails on context cancellation.
			return err
		}
		select {
		case out <- analyzed{item: f.item, raster: f.raster, analysis: analysis}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// embedLoop builds the caption and requests its embedding, then hands the
// complete record to the persisters. Embedding failures degrade to a record
// without a vector.
func (p *Pipeline) embedLoop(ctx context.Context, in <-chan analyzed, out chan<- *types.IndexedImage) error {
	for a := range in {
		rec := p.buildRecord(a)

		if p.embedder != nil {
			vec, err := p.embedWithRetry(ctx, rec.Caption.CaptionEN)
			if err != nil {
				logging.Get(logging.CategoryEmbedding).Warn("embedding failed for %s, persisting without vector: %v", a.item.Name, err)
				p.tracker.RecordError(fmt.Sprintf("embed %s: %v", a.item.Name, err))
			} else {
				rec.Caption.EmbedEN = vec
			}
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedder.EmbedDocument(ctx, text)
	if err == nil {
		return vec, nil
	}
	if apperr.IsFatal(err) {
		return nil, err
	}
	for _, delay := range embedRetryDelays {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if vec, err = p.embedder.EmbedDocument(ctx, text); err == nil {
			return vec, nil
		}
		if apperr.IsFatal(err) {
			break
		}
	}
	return nil, err
}

// buildRecord assembles the persistable record from the analysis.
func (p *Pipeline) buildRecord(a analyzed) *types.IndexedImage {
	facts := caption.BuildFacts(a.analysis)
	captionEN := caption.Render(facts)

	imageID := uuid.New().String()
	objects := make([]types.Object, len(a.analysis.Objects))
	copy(objects, a.analysis.Objects)
	for i := range objects {
		objects[i].ImageID = imageID
	}
	roomScores := make([]types.RoomScore, len(a.analysis.RoomScores))
	copy(roomScores, a.analysis.RoomScores)
	for i := range roomScores {
		roomScores[i].ImageID = imageID
	}

	return &types.IndexedImage{
		Image: types.Image{
			ID:             imageID,
			ExternalID:     a.item.ExternalID,
			FileName:       a.item.Name,
			FolderPath:     a.item.Path,
			Width:          a.raster.OrigWidth,
			Height:         a.raster.OrigHeight,
			PHash:          a.raster.PHash,
			Room:           a.analysis.Room,
			RoomConfidence: a.analysis.RoomConfidence,
			StyleTags:      a.analysis.StyleTags,
			IndexedAt:      time.Now().UTC(),
		},
		Objects:    objects,
		RoomScores: roomScores,
		Caption: types.Caption{
			ImageID:   imageID,
			CaptionEN: captionEN,
			Facts:     facts,
		},
		Tags: caption.DeriveTags(a.analysis.Room, objects, a.analysis.StyleTags),
	}
}

// persistLoop writes records and checkpoints progress.
func (p *Pipeline) persistLoop(ctx context.Context, in <-chan *types.IndexedImage) error {
	sinceCheckpoint := 0
	for rec := range in {
		if err := p.st.UpsertImage(ctx, rec); err != nil {
			logging.Get(logging.CategoryStore).Error("persist failed for %s: %v", rec.Image.FileName, err)
			p.tracker.RecordError(fmt.Sprintf("persist %s: %v", rec.Image.FileName, err))
			continue
		}
		p.tracker.MarkProcessed(rec.Image.FileName)

		sinceCheckpoint++
		if sinceCheckpoint >= progressSaveEvery {
			sinceCheckpoint = 0
			snap := p.tracker.Snapshot()
			if err := p.st.SaveProgress(ctx, &snap); err != nil {
				logging.Get(logging.CategoryProgress).Warn("progress save failed: %v", err)
			}
		}
	}
	return nil
}

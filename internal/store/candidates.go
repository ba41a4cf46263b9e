package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"piclocate/internal/embedding"
	"piclocate/internal/logging"
	"piclocate/internal/types"
)

// Candidates runs the hybrid Stage A query: SQL predicate from the parsed
// filters, cosine ranking against the query embedding, LIMIT k. When the
// structured predicate matches fewer than k/2 images the object predicates are
// dropped (room is kept) to guarantee recall.
func (s *Store) Candidates(ctx context.Context, q *types.ParsedQuery, queryVec []float32, k int) ([]types.RetrievalCandidate, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Candidates")
	defer timer.Stop()

	cands, err := s.candidatesOnce(ctx, q, queryVec, k, false)
	if err != nil {
		return nil, err
	}
	if len(cands) < k/2 && hasObjectPredicates(q) {
		logging.StoreDebug("predicate matched %d < %d, relaxing object filters", len(cands), k/2)
		relaxed, err := s.candidatesOnce(ctx, q, queryVec, k, true)
		if err != nil {
			return nil, err
		}
		cands = relaxed
	}
	return cands, nil
}

func hasObjectPredicates(q *types.ParsedQuery) bool {
	return len(q.Objects) > 0 || len(q.FreeColors) > 0 || len(q.FreeMaterials) > 0
}

func (s *Store) candidatesOnce(ctx context.Context, q *types.ParsedQuery, queryVec []float32, k int, relaxed bool) ([]types.RetrievalCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if q.Room != "" {
		where = append(where, "i.room = ?")
		args = append(args, q.Room)
	}
	if !relaxed {
		for _, o := range q.Objects {
			cond := "EXISTS (SELECT 1 FROM image_objects o WHERE o.image_id = i.id AND o.label = ?"
			args = append(args, o.Label)
			if o.Color != "" {
				cond += " AND o.color_name = ?"
				args = append(args, o.Color)
			}
			if o.Material != "" {
				cond += " AND o.material = ?"
				args = append(args, o.Material)
			}
			cond += ")"
			where = append(where, cond)
		}
		for _, c := range q.FreeColors {
			where = append(where, "EXISTS (SELECT 1 FROM image_tags t WHERE t.image_id = i.id AND t.tag = ?)")
			args = append(args, "col:"+c)
		}
		for _, m := range q.FreeMaterials {
			where = append(where, "EXISTS (SELECT 1 FROM image_tags t WHERE t.image_id = i.id AND t.tag = ?)")
			args = append(args, "mat:"+m)
		}
	}

	// Pure semantic queries go through the ANN index when available.
	if len(where) == 0 && s.vecExt && len(queryVec) > 0 {
		return s.vecCandidates(ctx, queryVec, k)
	}

	query := `
		SELECT i.id, i.external_id, i.file_name, i.folder_path, i.room, c.facts, c.embed_en
		FROM images i
		JOIN image_captions c ON c.image_id = i.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("candidate query: %w", err)
	}
	defer rows.Close()

	var cands []types.RetrievalCandidate
	for rows.Next() {
		var (
			c         types.RetrievalCandidate
			factsJSON string
			embedJSON sql.NullString
		)
		if err := rows.Scan(&c.ImageID, &c.ExternalID, &c.FileName, &c.FolderPath, &c.Room, &factsJSON, &embedJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(factsJSON), &c.Facts); err != nil {
			logging.Get(logging.CategoryStore).Warn("bad facts JSON for %s: %v", c.ImageID, err)
		}
		if embedJSON.Valid && len(queryVec) > 0 {
			var vec []float32
			if err := json.Unmarshal([]byte(embedJSON.String), &vec); err == nil {
				// retrieval_score = 1 - cosine_distance = cosine similarity.
				c.RetrievalScore = clamp01(embedding.CosineSimilarity(queryVec, vec))
			}
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(cands)
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands, nil
}

// vecCandidates ranks via the vec0 KNN index, then hydrates metadata.
func (s *Store) vecCandidates(ctx context.Context, queryVec []float32, k int) ([]types.RetrievalCandidate, error) {
	vecJSON, err := json.Marshal(queryVec)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT image_id, distance FROM vec_captions
		WHERE embedding MATCH ? ORDER BY distance LIMIT ?`, string(vecJSON), k)
	if err != nil {
		return nil, fmt.Errorf("vec candidate query: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id   string
		dist float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.dist); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var cands []types.RetrievalCandidate
	for _, h := range hits {
		var (
			c         types.RetrievalCandidate
			factsJSON string
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT i.id, i.external_id, i.file_name, i.folder_path, i.room, c.facts
			FROM images i JOIN image_captions c ON c.image_id = i.id
			WHERE i.id = ?`, h.id).
			Scan(&c.ImageID, &c.ExternalID, &c.FileName, &c.FolderPath, &c.Room, &factsJSON)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		if err := json.Unmarshal([]byte(factsJSON), &c.Facts); err != nil {
			logging.Get(logging.CategoryStore).Warn("bad facts JSON for %s: %v", c.ImageID, err)
		}
		c.RetrievalScore = clamp01(1 - h.dist)
		cands = append(cands, c)
	}
	sortCandidates(cands)
	return cands, nil
}

// sortCandidates orders by score descending with external_id as the
// deterministic tie-break.
func sortCandidates(cands []types.RetrievalCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].RetrievalScore != cands[j].RetrievalScore {
			return cands[i].RetrievalScore > cands[j].RetrievalScore
		}
		return cands[i].ExternalID < cands[j].ExternalID
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ContentHash returns a stable per-image content identifier for the VLM
// cache key. The perceptual hash of the stored raster serves this purpose.
func (s *Store) ContentHash(ctx context.Context, imageID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var phash int64
	err := s.db.QueryRowContext(ctx, `SELECT phash FROM images WHERE id = ?`, imageID).Scan(&phash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", uint64(phash)), nil
}

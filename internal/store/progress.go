package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"piclocate/internal/types"
)

// SaveProgress persists the indexer state so restarts can resume. A single
// row table keeps this trivial.
func (s *Store) SaveProgress(ctx context.Context, p *types.ProgressSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	errsJSON, err := json.Marshal(p.Errors)
	if err != nil {
		return err
	}
	running := 0
	if p.IsRunning {
		running = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_progress (id, is_running, started_at, processed_count, total_count, current_file, errors, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_running = excluded.is_running,
			started_at = excluded.started_at,
			processed_count = excluded.processed_count,
			total_count = excluded.total_count,
			current_file = excluded.current_file,
			errors = excluded.errors,
			updated_at = excluded.updated_at`,
		running, p.StartedAt, p.ProcessedCount, p.TotalCount, p.CurrentFile, string(errsJSON), time.Now().UTC())
	return err
}

// LoadProgress restores the persisted indexer state. processed_count is
// recomputed from the images table; the stored value may be stale after a
// crash. A fresh database yields an empty snapshot.
func (s *Store) LoadProgress(ctx context.Context) (*types.ProgressSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		p         types.ProgressSnapshot
		running   int
		startedAt sql.NullTime
		errsJSON  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT is_running, started_at, processed_count, total_count, current_file, errors
		FROM index_progress WHERE id = 1`).
		Scan(&running, &startedAt, &p.ProcessedCount, &p.TotalCount, &p.CurrentFile, &errsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.ProgressSnapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	// A restart always means the previous run is no longer running.
	p.IsRunning = false
	_ = running
	if startedAt.Valid {
		t := startedAt.Time
		p.StartedAt = &t
	}
	if err := json.Unmarshal([]byte(errsJSON), &p.Errors); err != nil {
		p.Errors = nil
	}

	if n, err := s.CountImages(ctx); err == nil {
		p.ProcessedCount = n
	}
	return &p, nil
}

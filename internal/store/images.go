package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"piclocate/internal/logging"
	"piclocate/internal/types"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// UpsertImage writes one fully analyzed image atomically: the image row, its
// objects, room scores, caption, tags and the vector table entry. Re-indexing
// the same external_id replaces all children, so stale facts never survive.
func (s *Store) UpsertImage(ctx context.Context, rec *types.IndexedImage) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertImage")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	styleJSON, err := json.Marshal(rec.Image.StyleTags)
	if err != nil {
		return err
	}
	factsJSON, err := json.Marshal(rec.Caption.Facts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	// Stable internal id across re-indexes of the same external file.
	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM images WHERE external_id = ?`, rec.Image.ExternalID).Scan(&existingID)
	switch {
	case err == nil:
		rec.Image.ID = existingID
		_, err = tx.ExecContext(ctx, `
			UPDATE images SET file_name = ?, folder_path = ?, width = ?, height = ?,
				phash = ?, captured_at = ?, room = ?, room_confidence = ?,
				style_tags = ?, indexed_at = ?
			WHERE id = ?`,
			rec.Image.FileName, rec.Image.FolderPath, rec.Image.Width, rec.Image.Height,
			int64(rec.Image.PHash), rec.Image.CapturedAt, rec.Image.Room, rec.Image.RoomConfidence,
			string(styleJSON), rec.Image.IndexedAt, rec.Image.ID)
		if err != nil {
			return fmt.Errorf("update image row: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO images (id, external_id, file_name, folder_path, width, height, phash,
				captured_at, room, room_confidence, style_tags, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Image.ID, rec.Image.ExternalID, rec.Image.FileName, rec.Image.FolderPath,
			rec.Image.Width, rec.Image.Height, int64(rec.Image.PHash),
			rec.Image.CapturedAt, rec.Image.Room, rec.Image.RoomConfidence,
			string(styleJSON), rec.Image.IndexedAt)
		if err != nil {
			return fmt.Errorf("insert image row: %w", err)
		}
	default:
		return fmt.Errorf("lookup existing image: %w", err)
	}

	// Replace children wholesale.
	for _, stmt := range []string{
		`DELETE FROM image_objects WHERE image_id = ?`,
		`DELETE FROM image_room_scores WHERE image_id = ?`,
		`DELETE FROM image_captions WHERE image_id = ?`,
		`DELETE FROM image_tags WHERE image_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, rec.Image.ID); err != nil {
			return fmt.Errorf("clear children: %w", err)
		}
	}

	for _, o := range rec.Objects {
		secJSON, err := json.Marshal(o.SecondaryColors)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO image_objects (id, image_id, label, label_confidence,
				bbox_x, bbox_y, bbox_w, bbox_h,
				color_name, color_l, color_a, color_b,
				secondary_colors, material, material_confidence, area_pixels)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, rec.Image.ID, o.Label, o.LabelConfidence,
			o.BBox.X, o.BBox.Y, o.BBox.W, o.BBox.H,
			o.ColorName, o.ColorLab.L, o.ColorLab.A, o.ColorLab.B,
			string(secJSON), o.Material, o.MaterialConfidence, o.AreaPixels)
		if err != nil {
			return fmt.Errorf("insert object: %w", err)
		}
	}

	for _, rs := range rec.RoomScores {
		if rs.Score == 0 {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO image_room_scores (image_id, room, score) VALUES (?, ?, ?)`,
			rec.Image.ID, rs.Room, rs.Score)
		if err != nil {
			return fmt.Errorf("insert room score: %w", err)
		}
	}

	var embedJSON any
	if len(rec.Caption.EmbedEN) > 0 {
		b, err := json.Marshal(rec.Caption.EmbedEN)
		if err != nil {
			return err
		}
		embedJSON = string(b)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO image_captions (image_id, caption_en, facts, embed_en) VALUES (?, ?, ?, ?)`,
		rec.Image.ID, rec.Caption.CaptionEN, string(factsJSON), embedJSON)
	if err != nil {
		return fmt.Errorf("insert caption: %w", err)
	}

	for _, tag := range rec.Tags {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO image_tags (image_id, tag) VALUES (?, ?)`, rec.Image.ID, tag)
		if err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	// The vec table lives outside the transaction; it is a derived index and
	// gets rebuilt from image_captions when inconsistent.
	if s.vecExt && len(rec.Caption.EmbedEN) > 0 {
		if err := s.syncVecRow(ctx, rec.Image.ID, rec.Caption.EmbedEN); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec row sync failed for %s: %v", rec.Image.ID, err)
		}
	}

	logging.StoreDebug("upserted image %s (%s) objects=%d tags=%d", rec.Image.ID, rec.Image.FileName, len(rec.Objects), len(rec.Tags))
	return nil
}

func (s *Store) syncVecRow(ctx context.Context, imageID string, embed []float32) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vec_captions WHERE image_id = ?`, imageID); err != nil {
		return err
	}
	blob, err := json.Marshal(embed)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO vec_captions (embedding, image_id) VALUES (?, ?)`, string(blob), imageID)
	return err
}

// IndexedAt returns when the external file was last indexed. ErrNotFound if
// never indexed.
func (s *Store) IndexedAt(ctx context.Context, externalID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT indexed_at FROM images WHERE external_id = ?`, externalID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return t, err
}

// FindNearDuplicate looks for an already-indexed image in the same folder
// whose perceptual hash is within the Hamming threshold. Returns the matching
// external_id or ErrNotFound.
func (s *Store) FindNearDuplicate(ctx context.Context, folderPath string, phash uint64, excludeExternalID string, maxHamming int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, phash FROM images WHERE folder_path = ? AND external_id != ?`,
		folderPath, excludeExternalID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	for rows.Next() {
		var extID string
		var stored int64
		if err := rows.Scan(&extID, &stored); err != nil {
			return "", err
		}
		if hamming64(uint64(stored), phash) <= maxHamming {
			return extID, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return "", ErrNotFound
}

func hamming64(a, b uint64) int {
	x := a ^ b
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

// CountImages returns the total number of indexed images.
func (s *Store) CountImages(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
	return n, err
}

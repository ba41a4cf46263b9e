// Package store persists the five-entity index in SQLite: images, their
// detected objects, room scores, captions with embeddings, and denormalized
// tags. Vector search uses the sqlite-vec vec0 virtual table when the
// extension is present and an in-process cosine scan otherwise.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"piclocate/internal/apperr"
	"piclocate/internal/logging"
)

// dbTimeout bounds individual statement execution.
const dbTimeout = 5 * time.Second

// Store owns the SQLite database. Safe for concurrent use; writes to one
// image are transactional.
type Store struct {
	db     *sql.DB
	dbPath string
	dims   int
	vecExt bool
	mu     sync.RWMutex
}

// New opens (or creates) the database at path. dims is the embedding
// dimensionality used for the vec0 table.
func New(path string, dims int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("opening index store at %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pool sized for fetchers + persisters + search concurrency. In-memory
	// databases are per-connection, so they must stay on a single conn.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster for the persister.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, dbPath: path, dims: dims}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkStoredDims(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vecExt {
		if err := s.initVecTable(); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec0 table init failed, falling back to cosine scan: %v", err)
			s.vecExt = false
		} else {
			logging.Store("sqlite-vec extension detected and enabled")
		}
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; vector search uses in-process cosine scan")
	}

	logging.Store("index store ready (vec=%v, dims=%d)", s.vecExt, dims)
	return s, nil
}

// initialize creates the five tables and their indexes.
func (s *Store) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			file_name TEXT NOT NULL,
			folder_path TEXT NOT NULL,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			phash INTEGER NOT NULL DEFAULT 0,
			captured_at DATETIME,
			room TEXT NOT NULL DEFAULT 'unknown',
			room_confidence REAL NOT NULL DEFAULT 0,
			style_tags TEXT NOT NULL DEFAULT '[]',
			indexed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_room ON images(room)`,
		`CREATE INDEX IF NOT EXISTS idx_images_folder ON images(folder_path)`,

		`CREATE TABLE IF NOT EXISTS image_objects (
			id TEXT PRIMARY KEY,
			image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			label_confidence REAL NOT NULL DEFAULT 0,
			bbox_x INTEGER NOT NULL DEFAULT 0,
			bbox_y INTEGER NOT NULL DEFAULT 0,
			bbox_w INTEGER NOT NULL DEFAULT 0,
			bbox_h INTEGER NOT NULL DEFAULT 0,
			color_name TEXT NOT NULL DEFAULT '',
			color_l REAL NOT NULL DEFAULT 0,
			color_a REAL NOT NULL DEFAULT 0,
			color_b REAL NOT NULL DEFAULT 0,
			secondary_colors TEXT NOT NULL DEFAULT '[]',
			material TEXT NOT NULL DEFAULT 'unknown',
			material_confidence REAL NOT NULL DEFAULT 0,
			area_pixels INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_image ON image_objects(image_id)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_label ON image_objects(label)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_color ON image_objects(color_name)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_material ON image_objects(material)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_label_color ON image_objects(label, color_name)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_label_material ON image_objects(label, material)`,

		`CREATE TABLE IF NOT EXISTS image_room_scores (
			image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			room TEXT NOT NULL,
			score REAL NOT NULL,
			PRIMARY KEY (image_id, room)
		)`,

		`CREATE TABLE IF NOT EXISTS image_captions (
			image_id TEXT PRIMARY KEY REFERENCES images(id) ON DELETE CASCADE,
			caption_en TEXT NOT NULL DEFAULT '',
			facts TEXT NOT NULL DEFAULT '{}',
			embed_en TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS image_tags (
			image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			PRIMARY KEY (image_id, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tags_tag ON image_tags(tag)`,

		`CREATE TABLE IF NOT EXISTS index_progress (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			is_running INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			processed_count INTEGER NOT NULL DEFAULT 0,
			total_count INTEGER NOT NULL DEFAULT 0,
			current_file TEXT NOT NULL DEFAULT '',
			errors TEXT NOT NULL DEFAULT '[]',
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// checkStoredDims probes one stored caption vector and refuses to serve a
// database whose embeddings do not match the configured dimensionality.
// Re-ranking against mismatched vectors would silently zero every score.
func (s *Store) checkStoredDims() error {
	if s.dims <= 0 {
		return nil
	}
	var embedJSON string
	err := s.db.QueryRow(`SELECT embed_en FROM image_captions WHERE embed_en IS NOT NULL LIMIT 1`).Scan(&embedJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dimension probe: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal([]byte(embedJSON), &vec); err != nil {
		logging.Get(logging.CategoryStore).Warn("dimension probe hit unreadable embedding: %v", err)
		return nil
	}
	if len(vec) != s.dims {
		return apperr.Newf(apperr.KindFatal,
			"stored embeddings are %d-dimensional but dims=%d is configured; re-index or fix the config", len(vec), s.dims)
	}
	return nil
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vecExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}
}

// initVecTable creates the caption vector table sized to the configured
// embedding dimensionality.
func (s *Store) initVecTable() error {
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_captions USING vec0(embedding float[%d], image_id TEXT)", s.dims)
	_, err := s.db.Exec(stmt)
	return err
}

// VecEnabled reports whether ANN search is active.
func (s *Store) VecEnabled() bool { return s.vecExt }

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	logging.Store("closing index store")
	return s.db.Close()
}

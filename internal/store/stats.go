package store

import (
	"context"

	"piclocate/internal/logging"
)

// Stats is the /stats payload: per-table counts and the fact distributions.
type Stats struct {
	Images        int            `json:"images"`
	Objects       int            `json:"objects"`
	RoomScores    int            `json:"room_scores"`
	Captions      int            `json:"captions"`
	Tags          int            `json:"tags"`
	Embedded      int            `json:"embedded"`
	RoomCounts    map[string]int `json:"room_counts"`
	ObjectCounts  map[string]int `json:"object_counts"`
	ColorCounts   map[string]int `json:"color_counts"`
	MaterialCount map[string]int `json:"material_counts"`
}

// CollectStats computes the index statistics in one pass per table.
func (s *Store) CollectStats(ctx context.Context) (*Stats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CollectStats")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st := &Stats{
		RoomCounts:    map[string]int{},
		ObjectCounts:  map[string]int{},
		ColorCounts:   map[string]int{},
		MaterialCount: map[string]int{},
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM images`, &st.Images},
		{`SELECT COUNT(*) FROM image_objects`, &st.Objects},
		{`SELECT COUNT(*) FROM image_room_scores`, &st.RoomScores},
		{`SELECT COUNT(*) FROM image_captions`, &st.Captions},
		{`SELECT COUNT(*) FROM image_tags`, &st.Tags},
		{`SELECT COUNT(*) FROM image_captions WHERE embed_en IS NOT NULL`, &st.Embedded},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	groups := []struct {
		query string
		dst   map[string]int
	}{
		{`SELECT room, COUNT(*) FROM images GROUP BY room`, st.RoomCounts},
		{`SELECT label, COUNT(*) FROM image_objects GROUP BY label`, st.ObjectCounts},
		{`SELECT color_name, COUNT(*) FROM image_objects WHERE color_name != '' GROUP BY color_name`, st.ColorCounts},
		{`SELECT material, COUNT(*) FROM image_objects WHERE material != 'unknown' GROUP BY material`, st.MaterialCount},
	}
	for _, g := range groups {
		rows, err := s.db.QueryContext(ctx, g.query)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			g.dst[key] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return st, nil
}

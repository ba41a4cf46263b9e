package vision

import "testing"

func TestClassifyRoomClearWinner(t *testing.T) {
	room, conf, scores := ClassifyRoom([]Detection{
		{Label: "toilet", Score: 0.9},
		{Label: "shower", Score: 0.8},
	})
	if room != "bathroom" {
		t.Fatalf("room = %q, want bathroom", room)
	}
	if conf < roomScoreThreshold {
		t.Errorf("confidence %v below threshold", conf)
	}
	if len(scores) == 0 {
		t.Error("expected persisted room scores")
	}
	for _, s := range scores {
		if s.Score == 0 {
			t.Errorf("zero score persisted for %s", s.Room)
		}
	}
}

func TestClassifyRoomNoDetections(t *testing.T) {
	room, conf, scores := ClassifyRoom(nil)
	if room != "unknown" || conf != 0 || scores != nil {
		t.Errorf("got (%q, %v, %v), want (unknown, 0, nil)", room, conf, scores)
	}
}

func TestClassifyRoomAmbiguous(t *testing.T) {
	// A lone low-confidence chair votes weakly for two rooms; the softmax
	// spreads across them and nothing clears the threshold convincingly.
	room, _, scores := ClassifyRoom([]Detection{
		{Label: "chair", Score: 0.3},
	})
	if len(scores) != 2 {
		t.Fatalf("expected 2 room scores, got %d", len(scores))
	}
	// dining_room outweighs office for chairs, so if anything wins it must
	// be dining_room; the contract under test is determinism, not the label.
	if room != "unknown" && room != "dining_room" {
		t.Errorf("unexpected room %q", room)
	}
}

func TestClassifyRoomDeterministic(t *testing.T) {
	dets := []Detection{
		{Label: "bed", Score: 0.9},
		{Label: "wardrobe", Score: 0.7},
		{Label: "tv", Score: 0.6},
	}
	first, _, firstScores := ClassifyRoom(dets)
	for i := 0; i < 10; i++ {
		room, _, scores := ClassifyRoom(dets)
		if room != first {
			t.Fatalf("nondeterministic room: %q vs %q", room, first)
		}
		if len(scores) != len(firstScores) {
			t.Fatalf("nondeterministic score count")
		}
		for j := range scores {
			if scores[j] != firstScores[j] {
				t.Fatalf("nondeterministic score order at %d", j)
			}
		}
	}
	if first != "bedroom" {
		t.Errorf("room = %q, want bedroom", first)
	}
}

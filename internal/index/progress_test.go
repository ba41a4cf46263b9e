package index

import (
	"fmt"
	"sync"
	"testing"

	"piclocate/internal/types"
)

func TestTrackerStartGuard(t *testing.T) {
	tr := NewTracker(nil)
	if !tr.Start() {
		t.Fatal("first start refused")
	}
	if tr.Start() {
		t.Fatal("second start accepted while running")
	}
	tr.Finish()
	if !tr.Start() {
		t.Error("start refused after finish")
	}
}

func TestTrackerStartResetsCounters(t *testing.T) {
	tr := NewTracker(&types.ProgressSnapshot{
		ProcessedCount: 50,
		TotalCount:     80,
		Errors:         []string{"old error"},
	})

	snap := tr.Snapshot()
	if snap.ProcessedCount != 50 || snap.TotalCount != 80 || len(snap.Errors) != 1 {
		t.Fatalf("seed lost: %+v", snap)
	}

	tr.Start()
	snap = tr.Snapshot()
	if snap.ProcessedCount != 0 || snap.TotalCount != 0 || len(snap.Errors) != 0 {
		t.Errorf("start did not reset: %+v", snap)
	}
	if !snap.IsRunning || snap.StartedAt == nil {
		t.Errorf("running state wrong: %+v", snap)
	}
}

func TestTrackerErrorCap(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start()
	for i := 0; i < maxTrackedErrors+40; i++ {
		tr.RecordError(fmt.Sprintf("err-%d", i))
	}
	snap := tr.Snapshot()
	if len(snap.Errors) != maxTrackedErrors {
		t.Fatalf("got %d errors, cap is %d", len(snap.Errors), maxTrackedErrors)
	}
	// Oldest entries are dropped, newest kept.
	if snap.Errors[len(snap.Errors)-1] != fmt.Sprintf("err-%d", maxTrackedErrors+39) {
		t.Errorf("newest error lost: %s", snap.Errors[len(snap.Errors)-1])
	}
	if snap.Errors[0] != "err-40" {
		t.Errorf("wrong oldest survivor: %s", snap.Errors[0])
	}
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start()
	tr.RecordError("one")

	snap := tr.Snapshot()
	snap.Errors[0] = "mutated"
	if got := tr.Snapshot().Errors[0]; got != "one" {
		t.Errorf("snapshot aliases internal state: %q", got)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.AddTotal(1)
				tr.MarkProcessed(fmt.Sprintf("file-%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.TotalCount != 800 || snap.ProcessedCount != 800 {
		t.Errorf("lost updates: total=%d processed=%d", snap.TotalCount, snap.ProcessedCount)
	}
}

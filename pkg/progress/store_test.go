package progress

import (
	"testing"
	"time"
)

func TestStore_UpdateAndGet(t *testing.T) {
	s := NewStore()

	s.Update("s1", "Downloaded tile 3/10", 30)

	snap, ok := s.Get("s1")
	if !ok {
		t.Fatal("expected snapshot for s1")
	}
	if snap.Progress != 30 || snap.Message != "Downloaded tile 3/10" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Completed || snap.Error != "" {
		t.Errorf("snapshot should not be terminal: %+v", snap)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore()

	if _, ok := s.Get("nope"); ok {
		t.Error("expected no snapshot for unknown session")
	}
}

func TestStore_Complete(t *testing.T) {
	s := NewStore()

	s.Update("s1", "Saving final image...", 95)
	s.Complete("s1", "Image ready for download!", "/work/downloads/img_stitched.jpg")

	snap, _ := s.Get("s1")
	if !snap.Completed {
		t.Error("expected completed snapshot")
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %v", snap.Progress)
	}
	if snap.FilePath != "/work/downloads/img_stitched.jpg" {
		t.Errorf("unexpected file path: %q", snap.FilePath)
	}
}

func TestStore_FailKeepsProgress(t *testing.T) {
	s := NewStore()

	s.Update("s1", "Downloaded tile 4/10", 40)
	s.Fail("s1", "Network error occurred", "Failed to download image: timeout")

	snap, _ := s.Get("s1")
	if snap.Error == "" {
		t.Error("expected error to be set")
	}
	if snap.Completed {
		t.Error("failed snapshot must not be completed")
	}
	if snap.Progress != 40 {
		t.Errorf("expected progress preserved at 40, got %v", snap.Progress)
	}
}

func TestStore_Prune(t *testing.T) {
	s := NewStore()

	s.Update("old", "stale", 10)
	// Backdate the snapshot so it falls outside the retention window.
	s.mu.Lock()
	snap := s.snapshots["old"]
	snap.Timestamp = time.Now().Add(-2 * time.Hour)
	s.snapshots["old"] = snap
	s.mu.Unlock()

	s.Update("fresh", "live", 50)

	removed := s.Prune(time.Hour)
	if removed != 1 {
		t.Errorf("expected 1 pruned snapshot, got %d", removed)
	}
	if _, ok := s.Get("old"); ok {
		t.Error("stale snapshot should have been pruned")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("fresh snapshot should survive pruning")
	}
}

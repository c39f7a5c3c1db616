package db

import (
	"path/filepath"
	"testing"
)

func TestRepository_CreateAndGet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	sess := &Session{
		SessionID: "s1",
		ImageID:   "abc_123",
		Status:    StatusPending,
	}

	if err := repo.Create(sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	retrieved, err := repo.GetBySessionID("s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}

	if retrieved.SessionID != sess.SessionID || retrieved.ImageID != sess.ImageID {
		t.Errorf("retrieved session mismatch: got %+v, want %+v", retrieved, sess)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	sess, err := repo.GetBySessionID("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for missing session, got %+v", sess)
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	sess := &Session{
		SessionID: "s1",
		ImageID:   "abc_123",
		Status:    StatusPending,
	}
	repo.Create(sess)

	if err := repo.UpdateStatus("s1", StatusFailed, "network error"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	updated, _ := repo.GetBySessionID("s1")
	if updated.Status != StatusFailed {
		t.Errorf("status not updated: got %s, want %s", updated.Status, StatusFailed)
	}
	if updated.ErrorMessage != "network error" {
		t.Errorf("error message not updated: got %q", updated.ErrorMessage)
	}
}

func TestRepository_Update(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	repo.Create(&Session{SessionID: "s1", ImageID: "img", Status: StatusRunning})

	sess, _ := repo.GetBySessionID("s1")
	sess.Status = StatusReady
	sess.FilePath = "/work/downloads/img_stitched.jpg"
	if err := repo.Update(sess); err != nil {
		t.Fatalf("failed to update session: %v", err)
	}

	updated, _ := repo.GetBySessionID("s1")
	if updated.Status != StatusReady {
		t.Errorf("status not updated: got %s, want %s", updated.Status, StatusReady)
	}
	if updated.FilePath != "/work/downloads/img_stitched.jpg" {
		t.Errorf("file path not updated: got %q", updated.FilePath)
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	repo.Create(&Session{SessionID: "s1", ImageID: "img1", Status: StatusReady})
	repo.Create(&Session{SessionID: "s2", ImageID: "img2", Status: StatusFailed})

	sessions, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessions))
	}

	if err := repo.Delete("s1"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}

	sessions, _ = repo.List()
	if len(sessions) != 1 {
		t.Errorf("expected 1 session after delete, got %d", len(sessions))
	}
}

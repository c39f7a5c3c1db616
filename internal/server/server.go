// Package server exposes the download API: start a job, poll its
// progress, fetch the finished artifact.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tilestitch/tilestitch/pkg/db"
	"github.com/tilestitch/tilestitch/pkg/progress"
	"github.com/tilestitch/tilestitch/pkg/security"
)

// JobRunner launches the download pipeline for a session.
type JobRunner interface {
	Launch(ctx context.Context, sessionID, imageID string) error
}

type Server struct {
	Repo      *db.Repository
	Tracker   *progress.Store
	Runner    JobRunner
	Validator *security.Validator

	// jobCtx is the context download jobs are launched under. Jobs
	// outlive the request that started them, so this is the server's
	// lifetime, not the request's.
	jobCtx context.Context
}

func New(jobCtx context.Context, repo *db.Repository, tracker *progress.Store, runner JobRunner, validator *security.Validator) *Server {
	return &Server{
		Repo:      repo,
		Tracker:   tracker,
		Runner:    runner,
		Validator: validator,
		jobCtx:    jobCtx,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/start_download", s.handleStartDownload)
	r.Get("/progress/{session_id}", s.handleProgress)
	r.Get("/download/{session_id}", s.handleDownload)

	return r
}

type startDownloadRequest struct {
	ImageID string `json:"image_id"`
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Please enter an IIIF image ID")
		return
	}

	imageID := strings.TrimSpace(req.ImageID)
	if imageID == "" {
		writeError(w, http.StatusBadRequest, "Please enter an IIIF image ID")
		return
	}
	if err := s.Validator.ValidateImageID(imageID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image ID format. Please provide a valid IIIF image ID.")
		return
	}

	sessionID := uuid.NewString()

	if err := s.Repo.Create(&db.Session{
		SessionID: sessionID,
		ImageID:   imageID,
		Status:    db.StatusPending,
	}); err != nil {
		slog.Error("session_create_failed", "image_id", imageID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start download")
		return
	}

	// Seed the tracker before replying so the first poll never races
	// the job's own first update.
	s.Tracker.Update(sessionID, "Fetching image metadata...", 0)

	if err := s.Runner.Launch(s.jobCtx, sessionID, imageID); err != nil {
		slog.Error("job_launch_failed", "session_id", sessionID, "error", err)
		s.Tracker.Delete(sessionID)
		s.Repo.UpdateStatus(sessionID, db.StatusFailed, err.Error())
		writeError(w, http.StatusInternalServerError, "Failed to start download")
		return
	}

	slog.Info("download_started", "session_id", sessionID, "image_id", imageID)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	snap, ok := s.Tracker.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	snap, ok := s.Tracker.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !snap.Completed {
		writeError(w, http.StatusBadRequest, "Download not completed yet")
		return
	}

	if snap.FilePath == "" {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if _, err := os.Stat(snap.FilePath); err != nil {
		slog.Error("artifact_missing", "session_id", sessionID, "path", snap.FilePath, "error", err)
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	filename := filepath.Base(snap.FilePath)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeFile(w, r, snap.FilePath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

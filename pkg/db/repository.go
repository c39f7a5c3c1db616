package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/tilestitch/tilestitch/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for download sessions
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new session record
func (r *Repository) Create(sess *Session) error {
	slog.Info("database_create_session", "session_id", sess.SessionID, "image_id", sess.ImageID, "status", sess.Status)

	query := `
		INSERT INTO sessions (session_id, image_id, status, file_path, error_message)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		sess.SessionID, sess.ImageID, sess.Status, sess.FilePath, sess.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "session_id", sess.SessionID, "error", err)
		return errors.Wrap(err, "failed to insert session")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "session_id", sess.SessionID, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	sess.ID = id

	return nil
}

// GetBySessionID retrieves a session by its opaque session ID.
// Returns (nil, nil) when no row exists.
func (r *Repository) GetBySessionID(sessionID string) (*Session, error) {
	query := `
		SELECT id, session_id, image_id, status, file_path, error_message, created_at, updated_at
		FROM sessions WHERE session_id = ?
	`
	var sess Session
	var filePath, errorMessage sql.NullString

	err := r.db.QueryRow(query, sessionID).Scan(
		&sess.ID, &sess.SessionID, &sess.ImageID, &sess.Status,
		&filePath, &errorMessage, &sess.CreatedAt, &sess.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "session_id", sessionID, "error", err)
		return nil, errors.Wrap(err, "failed to query session")
	}

	sess.FilePath = filePath.String
	sess.ErrorMessage = errorMessage.String

	return &sess, nil
}

// Update updates an existing session record
func (r *Repository) Update(sess *Session) error {
	slog.Info("database_update_session", "session_id", sess.SessionID, "status", sess.Status)

	query := `
		UPDATE sessions
		SET image_id = ?, status = ?, file_path = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		sess.ImageID, sess.Status, sess.FilePath, sess.ErrorMessage, sess.ID)
	if err != nil {
		slog.Error("database_update_failed", "session_id", sess.SessionID, "error", err)
		return errors.Wrap(err, "failed to update session")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_session_not_found_for_update", "id", sess.ID)
		return fmt.Errorf("session not found: id=%d", sess.ID)
	}

	return nil
}

// UpdateStatus updates only the status and error message of a session
func (r *Repository) UpdateStatus(sessionID, status, errorMessage string) error {
	slog.Info("database_update_status", "session_id", sessionID, "status", status)

	query := `UPDATE sessions SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`
	_, err := r.db.Exec(query, status, errorMessage, sessionID)
	if err != nil {
		slog.Error("database_status_update_failed", "session_id", sessionID, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	return nil
}

// List retrieves all sessions, newest first
func (r *Repository) List() ([]*Session, error) {
	query := `
		SELECT id, session_id, image_id, status, file_path, error_message, created_at, updated_at
		FROM sessions ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var filePath, errorMessage sql.NullString

		err := rows.Scan(
			&sess.ID, &sess.SessionID, &sess.ImageID, &sess.Status,
			&filePath, &errorMessage, &sess.CreatedAt, &sess.UpdatedAt)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}

		sess.FilePath = filePath.String
		sess.ErrorMessage = errorMessage.String

		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "session_count", len(sessions))
	return sessions, nil
}

// Delete deletes a session by its opaque session ID
func (r *Repository) Delete(sessionID string) error {
	slog.Info("database_delete_session", "session_id", sessionID)

	query := `DELETE FROM sessions WHERE session_id = ?`
	_, err := r.db.Exec(query, sessionID)
	if err != nil {
		slog.Error("database_delete_failed", "session_id", sessionID, "error", err)
		return errors.Wrap(err, "failed to delete session")
	}

	return nil
}

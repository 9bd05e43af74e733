package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

// SessionManager is the part of the session service the HTTP surface needs.
type SessionManager interface {
	CreateFromUpload(ctx context.Context, fileName, contentType string, data []byte) (*models.Session, error)
	Status(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

type SessionHandler struct {
	sessions  SessionManager
	maxUpload int64
	logger    *slog.Logger
}

func NewSessionHandler(sessions SessionManager, maxUpload int64, log *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		maxUpload: maxUpload,
		logger:    logger.OrDefault(log).With("component", "session_handler"),
	}
}

type uploadResponse struct {
	SessionID   string               `json:"sessionId"`
	Status      models.SessionStatus `json:"status"`
	TotalChunks int                  `json:"totalChunks"`
	FileName    string               `json:"fileName"`
	FileSize    int64                `json:"fileSize"`
}

type statusResponse struct {
	SessionID       string               `json:"sessionId"`
	Status          models.SessionStatus `json:"status"`
	Progress        float64              `json:"progress"`
	ChunksProcessed int                  `json:"chunksProcessed"`
	TotalChunks     int                  `json:"totalChunks"`
	Error           string               `json:"error,omitempty"`
	ExpiresAt       time.Time            `json:"expiresAt"`
}

// Upload accepts a multipart "file" and opens a session for it. Small documents are
// answered 200 when ready; larger ones 202 while they are chunked in the background.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "expected a multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "could not read file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	sess, err := h.sessions.CreateFromUpload(r.Context(), filepath.Base(header.Filename), contentType, data)
	if err != nil {
		fail(w, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if sess.Status == models.StatusReady {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{
		SessionID:   sess.ID,
		Status:      sess.Status,
		TotalChunks: sess.TotalChunks,
		FileName:    sess.FileName,
		FileSize:    sess.FileSize,
	})
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Status(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Progress:        sess.Progress(),
		ChunksProcessed: sess.ProcessedChunks,
		TotalChunks:     sess.TotalChunks,
		Error:           sess.ErrorMessage,
		ExpiresAt:       sess.ExpiresAt,
	})
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		fail(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

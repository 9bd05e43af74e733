package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/uwia/internal/config"
	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/uwia/internal/core/object-client"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

// SessionServiceDeps groups the collaborators of a SessionService. Objects is optional;
// without it uploads are not archived, interrupted sessions cannot be resumed and the
// vision path has no pages to read.
type SessionServiceDeps struct {
	Store      core.SessionStore
	Objects    core.ObjectClient
	Bucket     string
	Queue      ingestion_engine.Queue
	Processor  *ingestion_engine.SessionProcessor
	Thresholds ingestion_engine.SizeThresholds
	Sessions   config.SessionConfig
}

// SessionService owns the session lifecycle: creation, progress, waiting, deletion and
// expiry.
type SessionService struct {
	SessionServiceDeps
	logger *slog.Logger
	now    func() time.Time
}

func NewSessionService(deps SessionServiceDeps, log *slog.Logger) *SessionService {
	return &SessionService{
		SessionServiceDeps: deps,
		logger:             logger.OrDefault(log).With("component", "session_service"),
		now:                time.Now,
	}
}

// CreateFromUpload opens a session for an uploaded document. Small documents are
// processed before returning and come back ready; larger ones come back in processing
// with their job queued.
func (s *SessionService) CreateFromUpload(ctx context.Context, fileName, contentType string, data []byte) (*models.Session, error) {
	if len(data) == 0 {
		return nil, core.InvalidInput("uploaded file is empty")
	}
	now := s.now()
	sess := &models.Session{
		ID:          uuid.NewString(),
		FileName:    fileName,
		FileSize:    int64(len(data)),
		ContentType: contentType,
		Status:      models.StatusProcessing,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.Sessions.TTL),
	}
	profile := ingestion_engine.SelectConfig(sess.FileSize, s.Thresholds)
	log := s.logger.With("session_id", sess.ID, "size", sess.FileSize, "chunked", profile.Chunked())

	var archiveErr error
	if s.Objects != nil {
		key := objectclient.SessionKey(sess.ID, fileName)
		if _, err := s.Objects.UploadFile(ctx, s.Bucket, key, bytes.NewReader(data), contentType); err != nil {
			archiveErr = err
			log.Warn("upload not archived", "error", err)
		} else {
			sess.StorageKey = key
		}
	}
	if profile.Chunked() && sess.StorageKey == "" && ingestion_engine.NeedsArchive(s.Queue) {
		if archiveErr == nil {
			archiveErr = errors.New("no object storage configured")
		}
		return nil, core.ArchiveUnavailable(sess.ID, archiveErr)
	}

	if err := s.Store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info("session created")

	if !profile.Chunked() {
		if err := s.Processor.ProcessInline(ctx, sess, data); err != nil {
			return nil, err
		}
		return s.Status(ctx, sess.ID)
	}

	if err := s.Queue.Enqueue(ctx, ingestion_engine.Job{SessionID: sess.ID, Data: data}); err != nil {
		_ = s.Store.UpdateSessionStatus(context.WithoutCancel(ctx), sess.ID, models.StatusError, err.Error())
		return nil, fmt.Errorf("queue session %s: %w", sess.ID, err)
	}
	return sess, nil
}

// Status returns the session as stored, reporting it expired once past its TTL even if
// the sweep has not run yet.
func (s *SessionService) Status(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, core.SessionNotFound(id)
	}
	if sess.Status != models.StatusExpired && sess.Expired(s.now()) {
		sess.Status = models.StatusExpired
	}
	return sess, nil
}

// RequireReady returns the session only if it can be queried.
func (s *SessionService) RequireReady(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusReady {
		return nil, core.SessionNotReady(id, string(sess.Status))
	}
	return sess, nil
}

// WaitForChunks polls until the session is ready, bounded by the configured wait
// timeout. A session that fails or expires while waiting ends the wait early.
func (s *SessionService) WaitForChunks(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Sessions.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(s.Sessions.WaitPollInterval)
	defer ticker.Stop()

	for {
		sess, err := s.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		switch sess.Status {
		case models.StatusReady:
			n, err := s.Store.CountChunks(ctx, id)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				return sess, nil
			}
		case models.StatusError:
			return nil, core.NewAppError(core.CodeSessionNotReady,
				fmt.Sprintf("session %s failed: %s", id, sess.ErrorMessage), core.ErrSessionNotReady)
		case models.StatusExpired:
			return nil, core.SessionNotReady(id, string(sess.Status))
		}

		select {
		case <-ctx.Done():
			return nil, core.NewAppError(core.CodeSessionNotReady,
				fmt.Sprintf("session %s still %s after %s", id, sess.Status, s.Sessions.WaitTimeout), core.ErrSessionNotReady)
		case <-ticker.C:
		}
	}
}

// Delete removes a session and its chunks immediately.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := s.Store.DeleteSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil || !deleted {
		return core.SessionNotFound(id)
	}
	s.removeArchive(ctx, *sess)
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// Sweep marks sessions past their TTL as expired, then removes them with their chunks
// and archived uploads. It returns how many sessions were removed.
func (s *SessionService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	if _, err := s.Store.ExpireSessions(ctx, now); err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	removed, err := s.Store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	for _, sess := range removed {
		s.removeArchive(ctx, sess)
	}
	return len(removed), nil
}

// ReprocessPending re-queues sessions left in processing by a previous run. Sessions
// without an archived upload cannot be rebuilt and are marked failed.
func (s *SessionService) ReprocessPending(ctx context.Context) (int, error) {
	pending, err := s.Store.ListSessionsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, sess := range pending {
		if sess.Expired(s.now()) {
			continue
		}
		if sess.StorageKey == "" || s.Objects == nil {
			_ = s.Store.UpdateSessionStatus(ctx, sess.ID, models.StatusError, "processing interrupted; re-submit the document")
			continue
		}
		if err := s.Queue.Enqueue(ctx, ingestion_engine.Job{SessionID: sess.ID}); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("re-queued interrupted sessions", "count", queued)
	}
	return queued, nil
}

func (s *SessionService) removeArchive(ctx context.Context, sess models.Session) {
	if s.Objects == nil || sess.StorageKey == "" {
		return
	}
	if err := s.Objects.DeleteFile(ctx, s.Bucket, sess.StorageKey); err != nil {
		s.logger.Warn("archived upload not removed", "session_id", sess.ID, "key", sess.StorageKey, "error", err)
	}
}

package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/uwia/internal/models"
)

// SessionStore persists sessions and their chunks. Counter and status changes are
// single statements against the store, never computed from a cached copy.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	// GetSession returns nil, nil when the id is unknown.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)

	// SetTotalChunks records the chunk plan size; it only takes effect while total is still 0.
	SetTotalChunks(ctx context.Context, id string, total int) error
	// IncrementProcessed adds delta to processed_chunks, capped at total_chunks.
	IncrementProcessed(ctx context.Context, id string, delta int) error
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, message string) error

	// InsertChunks stores chunks; a chunk whose (session, index) already exists is left untouched.
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunks(ctx context.Context, sessionID string) ([]models.Chunk, error)
	CountChunks(ctx context.Context, sessionID string) (int, error)
	// SearchChunks returns chunks containing at least one term (case-insensitive). When
	// queryVec is set, Similarity is filled for chunks that carry an embedding.
	SearchChunks(ctx context.Context, sessionID string, terms []string, queryVec []float32) ([]models.Chunk, error)

	// DeleteSession removes the session and its chunks; false when nothing was deleted.
	DeleteSession(ctx context.Context, id string) (bool, error)
	// ExpireSessions marks every session past expires_at as expired.
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
	// DeleteExpiredSessions removes sessions past expires_at and returns what was removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) ([]models.Session, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// ClassificationCache remembers whether a prompt needs visual evidence. Implementations
// evict on their own once over capacity.
type ClassificationCache interface {
	Get(ctx context.Context, key string) (needsVisual bool, ok bool)
	Set(ctx context.Context, key string, needsVisual bool)
	Evict(ctx context.Context, key string)
	Len(ctx context.Context) int
}

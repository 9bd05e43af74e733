package ingestion_engine

import "context"

// Job asks for one session's chunks to be planned and stored. Data is optional: when
// nil the handler loads the archived upload through the session's storage key.
type Job struct {
	SessionID string `json:"session_id"`
	Data      []byte `json:"-"`
}

// Handler processes a single job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Queue hands jobs to background workers. The session row stays the durable record of
// the job; the queue only carries its id.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// ArchiveDependent is implemented by queues whose jobs lose Data in transit, so their
// handler can only reload the upload from object storage.
type ArchiveDependent interface {
	NeedsArchive() bool
}

// NeedsArchive reports whether jobs on q require an archived upload.
func NeedsArchive(q Queue) bool {
	a, ok := q.(ArchiveDependent)
	return ok && a.NeedsArchive()
}

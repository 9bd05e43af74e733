package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

var _ Handler = (*SessionProcessor)(nil)

// ProcessorDeps are the collaborators of a SessionProcessor. Objects and Embedder are
// optional.
type ProcessorDeps struct {
	Store      core.SessionStore
	Objects    core.ObjectClient
	Bucket     string
	Pages      core.PageExtractor
	Text       core.TextExtractor
	Embedder   core.EmbeddingProvider
	Guard      *MemoryGuard
	Thresholds SizeThresholds

	BaseTimeout  time.Duration
	LargeTimeout time.Duration
}

// SessionProcessor turns an uploaded document into stored chunks and drives its session
// from processing to ready or error.
type SessionProcessor struct {
	ProcessorDeps
	logger *slog.Logger
}

func NewSessionProcessor(deps ProcessorDeps, log *slog.Logger) *SessionProcessor {
	return &SessionProcessor{ProcessorDeps: deps, logger: logger.OrDefault(log).With("component", "session_processor")}
}

// ProcessInline extracts a small document in one pass and stores it as the single chunk
// of the session, which is ready when this returns nil.
func (p *SessionProcessor) ProcessInline(ctx context.Context, sess *models.Session, data []byte) error {
	timeout := ExtractTimeout(int64(len(data)), p.Thresholds, p.BaseTimeout, p.LargeTimeout)
	ext, err := runBounded(ctx, timeout, func(ctx context.Context) (*core.ExtractedText, error) {
		return p.Text.ExtractText(ctx, data)
	})
	if err == nil {
		err = p.Store.SetTotalChunks(ctx, sess.ID, 1)
	}
	if err == nil {
		err = p.store(ctx, sess.ID, []PlannedChunk{{Index: 0, Content: ext.Text}}, 1, 0)
	}
	if err != nil {
		p.fail(sess.ID, err)
		return err
	}
	return p.Store.UpdateSessionStatus(ctx, sess.ID, models.StatusReady, "")
}

// Handle plans and stores the chunks of a background session. Failures are recorded
// on the session before being returned.
func (p *SessionProcessor) Handle(ctx context.Context, job Job) error {
	sess, err := p.Store.GetSession(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", job.SessionID, err)
	}
	if sess == nil {
		return core.SessionNotFound(job.SessionID)
	}
	if sess.Status != models.StatusProcessing {
		p.logger.Info("skipping session not in processing", "session_id", sess.ID, "status", sess.Status)
		return nil
	}

	start := time.Now()
	if err := p.process(ctx, sess, job.Data); err != nil {
		p.fail(sess.ID, err)
		return err
	}
	if err := p.Store.UpdateSessionStatus(ctx, sess.ID, models.StatusReady, ""); err != nil {
		return err
	}
	p.logger.Info("session ready", "session_id", sess.ID, "elapsed", time.Since(start))
	return nil
}

func (p *SessionProcessor) process(ctx context.Context, sess *models.Session, data []byte) error {
	if data == nil {
		var err error
		if data, err = p.load(ctx, sess); err != nil {
			return err
		}
	}

	size := sess.FileSize
	if size <= 0 {
		size = int64(len(data))
	}
	profile := SelectConfig(size, p.Thresholds)
	timeout := ExtractTimeout(size, p.Thresholds, p.BaseTimeout, p.LargeTimeout)
	log := p.logger.With("session_id", sess.ID, "chunk_size", profile.ChunkSize, "parallelism", profile.MaxParallelism)

	pages, err := runBounded(ctx, timeout, func(ctx context.Context) ([]core.PageText, error) {
		return p.Pages.ExtractPages(ctx, data)
	})
	if err != nil {
		log.Warn("page extraction failed", "error", err)
	}

	plan := PlanChunks(pages, profile.ChunkSize)
	pages = nil
	if len(plan) == 0 {
		log.Warn("no page text, falling back to whole-document extraction")
		ext, err := runBounded(ctx, timeout, func(ctx context.Context) (*core.ExtractedText, error) {
			return p.Text.ExtractText(ctx, data)
		})
		if err != nil {
			return err
		}
		plan = []PlannedChunk{{Index: 0, Content: ext.Text, PageStart: 1, PageEnd: 1}}
	}
	if profile.UseStreaming {
		data = nil
	}

	if err := p.Store.SetTotalChunks(ctx, sess.ID, len(plan)); err != nil {
		return fmt.Errorf("set total chunks: %w", err)
	}
	// A resumed session continues after its last completed batch.
	current, err := p.Store.GetSession(ctx, sess.ID)
	if err != nil || current == nil {
		return fmt.Errorf("reload session %s: %w", sess.ID, errors.Join(err, core.ErrSessionNotFound))
	}
	if current.TotalChunks != len(plan) {
		return fmt.Errorf("chunk plan of %d does not match recorded total %d", len(plan), current.TotalChunks)
	}
	log.Info("chunk plan ready", "total", len(plan), "resume_from", current.ProcessedChunks)

	if err := p.store(ctx, sess.ID, plan, profile.MaxParallelism, current.ProcessedChunks); err != nil {
		return err
	}
	if profile.EnableSwapHint && p.Guard != nil {
		p.Guard.collect(true)
	}
	return nil
}

// store writes plan[from:] in batches of parallelism chunks, stored concurrently within
// a batch. processed_chunks advances only once a whole batch has landed.
func (p *SessionProcessor) store(ctx context.Context, sessionID string, plan []PlannedChunk, parallelism, from int) error {
	if parallelism < 1 {
		parallelism = 1
	}
	for b := from; b < len(plan); b += parallelism {
		batchNo := b / parallelism
		if p.Guard != nil {
			if _, err := p.Guard.Check(ctx); err != nil {
				return core.ChunkBatchFailure(sessionID, batchNo, err)
			}
		}

		batch := plan[b:min(b+parallelism, len(plan))]
		chunks := make([]models.Chunk, len(batch))
		for i, pc := range batch {
			chunks[i] = models.NewChunk(sessionID, pc.Index, pc.Content, pc.PageStart, pc.PageEnd)
		}
		p.embed(ctx, sessionID, chunks)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for _, ch := range chunks {
			g.Go(func() error {
				return p.Store.InsertChunks(gctx, []models.Chunk{ch})
			})
		}
		if err := g.Wait(); err != nil {
			return core.ChunkBatchFailure(sessionID, batchNo, err)
		}
		if err := p.Store.IncrementProcessed(ctx, sessionID, len(batch)); err != nil {
			return core.ChunkBatchFailure(sessionID, batchNo, err)
		}
	}
	return nil
}

// embed attaches vectors when an embedder is configured. Chunks stay searchable by
// keyword without them, so a failure is only logged.
func (p *SessionProcessor) embed(ctx context.Context, sessionID string, chunks []models.Chunk) {
	if p.Embedder == nil {
		return
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vecs, err := p.Embedder.EmbedTexts(ctx, texts)
	if err != nil || len(vecs) != len(chunks) {
		p.logger.Warn("embedding batch skipped", "session_id", sessionID, "error", err, "vectors", len(vecs))
		return
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
}

func (p *SessionProcessor) load(ctx context.Context, sess *models.Session) ([]byte, error) {
	if p.Objects == nil || sess.StorageKey == "" {
		return nil, fmt.Errorf("session %s has no archived upload to process", sess.ID)
	}
	data, err := p.Objects.GetFile(ctx, p.Bucket, sess.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sess.StorageKey, err)
	}
	return data, nil
}

// fail records err on the session. It uses its own context so a cancelled job still
// leaves the session in error.
func (p *SessionProcessor) fail(sessionID string, err error) {
	p.logger.Error("session processing failed", "session_id", sessionID, "error", err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if uerr := p.Store.UpdateSessionStatus(ctx, sessionID, models.StatusError, err.Error()); uerr != nil {
		p.logger.Error("could not record session failure", "session_id", sessionID, "error", uerr)
	}
}

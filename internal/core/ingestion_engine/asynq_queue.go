package ingestion_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/markdave123-py/uwia/internal/logger"
)

const (
	TaskProcessSession = "session:process"
	queueCritical      = "critical"
)

var _ Queue = (*AsynqQueue)(nil)

// AsynqQueue distributes jobs through Redis so any replica can pick them up. Only the
// session id travels; the worker reloads the archived upload.
type AsynqQueue struct {
	client  *asynq.Client
	server  *asynq.Server
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsynqQueue connects to redisURL and starts consuming session tasks with h.
func NewAsynqQueue(redisURL string, concurrency int, timeout time.Duration, h Handler, log *slog.Logger) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	log = logger.OrDefault(log).With("component", "asynq_queue")

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueCritical: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessSession, func(ctx context.Context, t *asynq.Task) error {
		var job Job
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
		}
		return h.Handle(ctx, job)
	})
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("start asynq server: %w", err)
	}

	return &AsynqQueue{client: asynq.NewClient(opt), server: srv, timeout: timeout, logger: log}, nil
}

// NeedsArchive is always true: payloads carry only the session id.
func (q *AsynqQueue) NeedsArchive() bool { return true }

func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(Job{SessionID: job.SessionID})
	if err != nil {
		return err
	}
	// Failures land in the session's error status; a retry would reprocess from scratch.
	task := asynq.NewTask(TaskProcessSession, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
		asynq.Queue(queueCritical),
	)
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue session %s: %w", job.SessionID, err)
	}
	q.logger.Info("queued session", "session_id", job.SessionID, "task_id", info.ID)
	return nil
}

func (q *AsynqQueue) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.server.Shutdown()
		_ = q.client.Close()
	}()
	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
	}
}

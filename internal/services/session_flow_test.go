package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/markdave123-py/uwia/internal/core"
	db "github.com/markdave123-py/uwia/internal/core/database"
	"github.com/markdave123-py/uwia/internal/core/ingestion_engine"
	"github.com/markdave123-py/uwia/internal/models"
)

type fixedPages struct{ pages []core.PageText }

func (f fixedPages) ExtractPages(context.Context, []byte) ([]core.PageText, error) {
	return f.pages, nil
}

func fortyCharPages(n int) []core.PageText {
	pages := make([]core.PageText, n)
	for i := range pages {
		pages[i] = core.PageText{Page: i + 1, Text: strings.Repeat(string(rune('a'+i)), 39) + "\n"}
	}
	return pages
}

// countingStore fails the test whenever processed_chunks passes total_chunks and slows
// each batch slightly so pollers see intermediate counters.
type countingStore struct {
	*db.MemoryStore
	t *testing.T
}

func (s *countingStore) IncrementProcessed(ctx context.Context, id string, delta int) error {
	time.Sleep(5 * time.Millisecond)
	if err := s.MemoryStore.IncrementProcessed(ctx, id, delta); err != nil {
		return err
	}
	if sess, _ := s.GetSession(ctx, id); sess.ProcessedChunks > sess.TotalChunks {
		s.t.Errorf("processed %d exceeds total %d", sess.ProcessedChunks, sess.TotalChunks)
	}
	return nil
}

// detachedQueue forwards jobs the way a redis-backed queue does: only the JSON payload
// survives, so Data is lost.
type detachedQueue struct{ *ingestion_engine.WorkerPool }

func (q detachedQueue) NeedsArchive() bool { return true }

func (q detachedQueue) Enqueue(ctx context.Context, job ingestion_engine.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	var sent ingestion_engine.Job
	if err := json.Unmarshal(raw, &sent); err != nil {
		return err
	}
	return q.WorkerPool.Enqueue(ctx, sent)
}

type failingUploads struct{ *memObjects }

func (failingUploads) UploadFile(context.Context, string, string, io.Reader, string) (string, error) {
	return "", errors.New("s3 unavailable")
}

type flowOptions struct {
	objects  core.ObjectClient
	detached bool
}

func newFlowService(t *testing.T, store core.SessionStore, opts flowOptions) *SessionService {
	t.Helper()
	proc := ingestion_engine.NewSessionProcessor(ingestion_engine.ProcessorDeps{
		Store:        store,
		Objects:      opts.objects,
		Bucket:       "claims",
		Pages:        fixedPages{pages: fortyCharPages(6)},
		Text:         fixedText{text: "unused"},
		Thresholds:   smallThresholds,
		BaseTimeout:  time.Second,
		LargeTimeout: time.Second,
	}, discard)
	pool := ingestion_engine.NewWorkerPool(proc, discard, ingestion_engine.WithWorkers(1))
	pool.Start()
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	var q ingestion_engine.Queue = pool
	if opts.detached {
		q = detachedQueue{pool}
	}
	return NewSessionService(SessionServiceDeps{
		Store:      store,
		Objects:    opts.objects,
		Bucket:     "claims",
		Queue:      q,
		Processor:  proc,
		Thresholds: smallThresholds,
		Sessions:   testSessionConfig,
	}, discard)
}

// pollUntilReady checks every snapshot against the counter invariants.
func pollUntilReady(t *testing.T, svc *SessionService, id string) *models.Session {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := svc.Status(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if sess.ProcessedChunks > sess.TotalChunks {
			t.Fatalf("snapshot processed %d > total %d", sess.ProcessedChunks, sess.TotalChunks)
		}
		switch sess.Status {
		case models.StatusReady:
			return sess
		case models.StatusError:
			t.Fatalf("session failed: %s", sess.ErrorMessage)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("session never became ready")
	return nil
}

func TestLargeUploadProcessesInBackground(t *testing.T) {
	cases := []struct {
		name string
		opts flowOptions
	}{
		{"in-process without object storage", flowOptions{}},
		{"in-process with object storage", flowOptions{objects: newMemObjects()}},
		{"detached with object storage", flowOptions{objects: newMemObjects(), detached: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &countingStore{MemoryStore: db.NewMemoryStore(), t: t}
			svc := newFlowService(t, store, tc.opts)

			sess, err := svc.CreateFromUpload(context.Background(), "estimate.pdf", "application/pdf", bytes.Repeat([]byte("x"), 500))
			if err != nil {
				t.Fatal(err)
			}
			if sess.Status != models.StatusProcessing || sess.TotalChunks != 0 || sess.ProcessedChunks != 0 {
				t.Fatalf("returned snapshot = %s %d/%d", sess.Status, sess.ProcessedChunks, sess.TotalChunks)
			}

			done := pollUntilReady(t, svc, sess.ID)
			if done.TotalChunks < 2 || done.ProcessedChunks != done.TotalChunks {
				t.Fatalf("final counters = %d/%d", done.ProcessedChunks, done.TotalChunks)
			}
			if n, _ := store.CountChunks(context.Background(), sess.ID); n != done.TotalChunks {
				t.Fatalf("stored chunks = %d, want %d", n, done.TotalChunks)
			}
		})
	}
}

func TestDetachedQueueRequiresArchivedUpload(t *testing.T) {
	cases := []struct {
		name    string
		objects core.ObjectClient
	}{
		{"no object storage", nil},
		{"archive upload failed", failingUploads{newMemObjects()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := db.NewMemoryStore()
			svc := newFlowService(t, store, flowOptions{objects: tc.objects, detached: true})

			_, err := svc.CreateFromUpload(ctx, "estimate.pdf", "application/pdf", bytes.Repeat([]byte("x"), 500))
			if !errors.Is(err, core.ErrArchiveUnavailable) {
				t.Fatalf("err = %v", err)
			}
			for _, st := range []models.SessionStatus{models.StatusProcessing, models.StatusError} {
				if left, _ := store.ListSessionsByStatus(ctx, st); len(left) != 0 {
					t.Fatalf("%d %s sessions left behind", len(left), st)
				}
			}

			// Small uploads never reach the queue and still succeed.
			small, err := svc.CreateFromUpload(ctx, "lop.pdf", "application/pdf", []byte("%PDF-1.7"))
			if err != nil || small.Status != models.StatusReady {
				t.Fatalf("small upload = %+v, %v", small, err)
			}
		})
	}
}

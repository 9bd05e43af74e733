package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/core/fusion"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

const defaultRasterScale = 2.0

// visualCues mark questions that cannot be answered from extracted text alone.
var visualCues = []string{
	"signature", "signed", "stamp", "seal", "handwritten", "checkbox", "checked",
	"photo", "image", "diagram", "initials", "logo",
}

// PathOutcome summarizes one evaluation path for the response.
type PathOutcome struct {
	Ran        bool    `json:"ran"`
	OK         bool    `json:"ok"`
	Answer     string  `json:"answer,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

func outcome(ran bool, r core.EvalResult) PathOutcome {
	return PathOutcome{Ran: ran, OK: r.OK(), Answer: r.Answer, Confidence: r.Confidence, Reason: r.Reason}
}

// AnalysisResult is the fused answer vector for one consolidated prompt.
type AnalysisResult struct {
	DocumentName   string            `json:"documentName"`
	Answer         string            `json:"answer"`
	Values         []string          `json:"values"`
	Fields         map[string]string `json:"fields"`
	Confidence     float64           `json:"confidence"`
	TextPath       PathOutcome       `json:"textPath"`
	VisionPath     PathOutcome       `json:"visionPath"`
	Adjusted       bool              `json:"adjusted"`
	ProcessingTime time.Duration     `json:"-"`
}

type ConsolidatedServiceDeps struct {
	Sessions       *SessionService
	Store          core.SessionStore
	Objects        core.ObjectClient
	Bucket         string
	Evaluator      core.Evaluator
	Rasterizer     core.Rasterizer
	Catalog        *PromptCatalog
	Cache          core.ClassificationCache
	VisionMaxPages int
}

// ConsolidatedService answers a catalog prompt over a whole session, running the text
// path and, for prompts that need visual evidence, the vision path, then fusing them.
type ConsolidatedService struct {
	ConsolidatedServiceDeps
	logger *slog.Logger
}

func NewConsolidatedService(deps ConsolidatedServiceDeps, log *slog.Logger) *ConsolidatedService {
	if deps.VisionMaxPages <= 0 {
		deps.VisionMaxPages = 3
	}
	return &ConsolidatedService{
		ConsolidatedServiceDeps: deps,
		logger:                  logger.OrDefault(log).With("component", "consolidated_service"),
	}
}

func (s *ConsolidatedService) Analyze(ctx context.Context, sessionID, documentName string, variables map[string]string) (*AnalysisResult, error) {
	start := time.Now()
	prompt, ok := s.Catalog.Lookup(documentName)
	if !ok {
		return nil, core.InvalidInput(fmt.Sprintf("unknown document name %q", documentName))
	}
	question := fusion.Render(prompt.Question, variables)
	log := s.logger.With("session_id", sessionID, "document", prompt.DocumentName)

	sess, err := s.Sessions.WaitForChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.Store.GetChunks(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	docText := joinChunks(chunks)

	needsVisual := s.needsVisual(ctx, prompt.DocumentName, question)

	var text, vision core.EvalResult
	var g errgroup.Group
	g.Go(func() error {
		text = s.Evaluator.EvaluateText(ctx, docText, question, prompt.ExpectedType)
		return nil
	})
	if needsVisual {
		g.Go(func() error {
			vision = s.visionPath(ctx, sess, question, prompt)
			return nil
		})
	}
	_ = g.Wait()

	fused := fusion.Fuse(prompt.FieldNames, text, vision, log)
	fields := make(map[string]string, len(prompt.FieldNames))
	for i, name := range prompt.FieldNames {
		if i < len(fused.Values) {
			fields[name] = fused.Values[i]
		}
	}

	log.Info("consolidated analysis finished",
		"needs_visual", needsVisual, "text_ok", text.OK(), "vision_ok", vision.OK(),
		"confidence", fused.Confidence, "adjusted", fused.Adjusted)

	return &AnalysisResult{
		DocumentName:   prompt.DocumentName,
		Answer:         fused.Answer,
		Values:         fused.Values,
		Fields:         fields,
		Confidence:     fused.Confidence,
		TextPath:       outcome(true, text),
		VisionPath:     outcome(needsVisual, vision),
		Adjusted:       fused.Adjusted,
		ProcessingTime: time.Since(start),
	}, nil
}

func joinChunks(chunks []models.Chunk) string {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}

// ClassificationKey identifies a rendered question of a document type.
func ClassificationKey(documentName, question string) string {
	sum := sha256.Sum256([]byte(question))
	return documentName + ":" + hex.EncodeToString(sum[:])
}

// NeedsVisual reports whether question refers to something only visible on the page.
func NeedsVisual(question string) bool {
	q := strings.ToLower(question)
	for _, cue := range visualCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

func (s *ConsolidatedService) needsVisual(ctx context.Context, documentName, question string) bool {
	key := ClassificationKey(documentName, question)
	if s.Cache != nil {
		if v, ok := s.Cache.Get(ctx, key); ok {
			return v
		}
	}
	v := NeedsVisual(question)
	if s.Cache != nil {
		s.Cache.Set(ctx, key, v)
	}
	return v
}

// visionPath evaluates the first pages of the archived upload one image at a time and
// folds the page answers together. When rasterizing several pages times out it retries
// with the first page only.
func (s *ConsolidatedService) visionPath(ctx context.Context, sess *models.Session, question string, prompt models.ConsolidatedPrompt) core.EvalResult {
	if s.Rasterizer == nil || s.Objects == nil || sess.StorageKey == "" {
		return core.Failure("document pages are not available")
	}
	data, err := s.Objects.GetFile(ctx, s.Bucket, sess.StorageKey)
	if err != nil {
		return core.Failure(fmt.Sprintf("load document: %v", err))
	}

	pages := make([]int, s.VisionMaxPages)
	for i := range pages {
		pages[i] = i + 1
	}
	images, err := s.Rasterizer.Rasterize(ctx, data, pages, defaultRasterScale)
	if errors.Is(err, core.ErrConversionTimeout) && len(pages) > 1 {
		s.logger.Warn("rasterizing timed out, retrying first page only", "session_id", sess.ID, "pages", len(pages))
		images, err = s.Rasterizer.Rasterize(ctx, data, []int{1}, defaultRasterScale)
	}
	if err != nil {
		return core.Failure(fmt.Sprintf("rasterize: %v", err))
	}
	if len(images) == 0 {
		return core.Failure("no page images")
	}

	order := make([]int, 0, len(images))
	for p := range images {
		order = append(order, p)
	}
	sort.Ints(order)

	acc := core.Failure("no page answered")
	for _, p := range order {
		img := images[p]
		res := s.Evaluator.EvaluateImage(ctx, img, http.DetectContentType(img), question, prompt.ExpectedType)
		if !res.OK() {
			s.logger.Warn("page evaluation failed", "session_id", sess.ID, "page", p, "reason", res.Reason)
			continue
		}
		if !acc.OK() {
			acc = res
			continue
		}
		merged := fusion.Fuse(prompt.FieldNames, acc, res, s.logger)
		acc = core.Success(merged.Answer, merged.Confidence)
	}
	return acc
}

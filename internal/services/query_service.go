package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

const (
	DefaultMaxResults = 5
	MaxResultsLimit   = 20
	chunkSeparator    = "\n\n---\n\n"
)

// QueryResult is the synthesized answer to a free-form question.
type QueryResult struct {
	Answer         string        `json:"answer"`
	Confidence     float64       `json:"confidence"`
	SourceChunkIDs []string      `json:"sourceChunks"`
	ProcessingTime time.Duration `json:"-"`
}

// QueryService answers questions against a ready session by keyword retrieval followed
// by synthesis over the matching chunks.
type QueryService struct {
	sessions  *SessionService
	store     core.SessionStore
	evaluator core.Evaluator
	embedder  core.EmbeddingProvider
	logger    *slog.Logger
}

// NewQueryService builds the service. embedder is optional and only re-ranks matches.
func NewQueryService(sessions *SessionService, store core.SessionStore, evaluator core.Evaluator, embedder core.EmbeddingProvider, log *slog.Logger) *QueryService {
	return &QueryService{
		sessions:  sessions,
		store:     store,
		evaluator: evaluator,
		embedder:  embedder,
		logger:    logger.OrDefault(log).With("component", "query_service"),
	}
}

func (s *QueryService) Query(ctx context.Context, sessionID, question string, maxResults int) (*QueryResult, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, core.InvalidInput("question is required")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	maxResults = min(maxResults, MaxResultsLimit)

	if _, err := s.sessions.RequireReady(ctx, sessionID); err != nil {
		return nil, err
	}

	terms := Keywords(question)
	matches, err := s.retrieve(ctx, sessionID, question, terms)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("session_id", sessionID, "terms", len(terms), "matches", len(matches))
	if len(matches) == 0 {
		log.Info("no chunk matched the question")
		return &QueryResult{Answer: models.NotFound, SourceChunkIDs: []string{}, ProcessingTime: time.Since(start)}, nil
	}

	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	ids := make([]string, len(matches))
	parts := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		parts[i] = m.Content
	}

	res := s.evaluator.EvaluateText(ctx, strings.Join(parts, chunkSeparator), question, "text")
	if !res.OK() {
		return nil, core.SynthesisFailed(res.Reason)
	}
	log.Info("question answered", "confidence", res.Confidence)
	return &QueryResult{
		Answer:         res.Answer,
		Confidence:     res.Confidence,
		SourceChunkIDs: ids,
		ProcessingTime: time.Since(start),
	}, nil
}

// retrieve returns chunks containing every term, or failing that a majority of them,
// best first.
func (s *QueryService) retrieve(ctx context.Context, sessionID, question string, terms []string) ([]models.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	candidates, err := s.store.SearchChunks(ctx, sessionID, terms, s.questionVector(ctx, question))
	if err != nil {
		return nil, err
	}

	scored := make([]scoredChunk, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, scoreChunk(c, terms))
	}

	matches := filterByHits(scored, len(terms))
	if len(matches) == 0 {
		matches = filterByHits(scored, len(terms)/2+1)
	}
	rank(matches)

	out := make([]models.Chunk, len(matches))
	for i, m := range matches {
		out[i] = m.chunk
	}
	return out, nil
}

func (s *QueryService) questionVector(ctx context.Context, question string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vecs, err := s.embedder.EmbedTexts(ctx, []string{question})
	if err != nil || len(vecs) != 1 {
		s.logger.Warn("question embedding skipped", "error", err)
		return nil
	}
	return vecs[0]
}

type scoredChunk struct {
	chunk   models.Chunk
	hits    int
	density float64
}

func scoreChunk(c models.Chunk, terms []string) scoredChunk {
	lower := strings.ToLower(c.Content)
	sc := scoredChunk{chunk: c}
	occurrences := 0
	for _, t := range terms {
		if n := strings.Count(lower, t); n > 0 {
			sc.hits++
			occurrences += n
		}
	}
	if len(lower) > 0 {
		sc.density = float64(occurrences) * 1000 / float64(len(lower))
	}
	return sc
}

func filterByHits(scored []scoredChunk, minHits int) []scoredChunk {
	var out []scoredChunk
	for _, sc := range scored {
		if sc.hits >= minHits {
			out = append(out, sc)
		}
	}
	return out
}

// rank orders by embedding similarity when present, then match density, then position.
func rank(matches []scoredChunk) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.chunk.Similarity != b.chunk.Similarity {
			return a.chunk.Similarity > b.chunk.Similarity
		}
		if a.density != b.density {
			return a.density > b.density
		}
		return a.chunk.ChunkIndex < b.chunk.ChunkIndex
	})
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "were": true, "what": true,
	"which": true, "who": true, "whom": true, "whose": true, "when": true, "where": true, "why": true,
	"how": true, "does": true, "did": true, "has": true, "have": true, "had": true, "this": true,
	"that": true, "these": true, "those": true, "with": true, "from": true, "into": true, "any": true,
	"there": true, "their": true, "they": true, "them": true, "its": true, "not": true, "but": true,
	"you": true, "your": true, "can": true, "could": true, "would": true, "should": true, "will": true,
	"about": true, "document": true, "please": true, "tell": true, "give": true, "list": true,
	"all": true, "each": true, "been": true, "being": true, "than": true, "then": true, "also": true,
}

// Keywords lowercases the question and keeps its distinct salient words in order.
// Numbers are kept at any length; other words need at least three letters.
func Keywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if seen[f] || stopwords[f] {
			continue
		}
		if len(f) < 3 && !isNumber(f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

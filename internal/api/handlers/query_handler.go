package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/services"
)

type Querier interface {
	Query(ctx context.Context, sessionID, question string, maxResults int) (*services.QueryResult, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, sessionID, documentName string, variables map[string]string) (*services.AnalysisResult, error)
}

// QueryHandler serves free-form questions and consolidated analyses over a session.
type QueryHandler struct {
	querier  Querier
	analyzer Analyzer
	logger   *slog.Logger
}

func NewQueryHandler(q Querier, a Analyzer, log *slog.Logger) *QueryHandler {
	return &QueryHandler{querier: q, analyzer: a, logger: logger.OrDefault(log).With("component", "query_handler")}
}

type queryRequest struct {
	Question   string `json:"question"`
	MaxResults int    `json:"maxResults"`
}

type queryResponse struct {
	*services.QueryResult
	ProcessingTime int64 `json:"processingTime"`
}

type analyzeRequest struct {
	DocumentName string            `json:"documentName"`
	Variables    map[string]string `json:"variables"`
}

type analyzeResponse struct {
	*services.AnalysisResult
	ProcessingTime int64 `json:"processingTime"`
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}
	res, err := h.querier.Query(r.Context(), chi.URLParam(r, "sessionId"), req.Question, req.MaxResults)
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{QueryResult: res, ProcessingTime: res.ProcessingTime.Milliseconds()})
}

func (h *QueryHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentName == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "documentName is required")
		return
	}
	res, err := h.analyzer.Analyze(r.Context(), chi.URLParam(r, "sessionId"), req.DocumentName, req.Variables)
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{AnalysisResult: res, ProcessingTime: res.ProcessingTime.Milliseconds()})
}

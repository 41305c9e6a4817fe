package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmesh/agentsearch/engine/domain"
	"github.com/agentmesh/agentsearch/engine/search"
	"github.com/agentmesh/agentsearch/pkg/metrics"
	"github.com/agentmesh/agentsearch/pkg/resilience"
)

// searchService and indexService are the handler-side views of the engines.
type searchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*search.Response, error)
	Stats(ctx context.Context) (int, error)
	Healthy(ctx context.Context) bool
}

type indexService interface {
	IndexOne(ctx context.Context, req domain.IndexRequest) error
	IndexAll(ctx context.Context) (domain.IndexRun, error)
}

type modelInfo interface {
	ModelName() string
	Dimensions() int
	Available(ctx context.Context) bool
}

type directoryHealth interface {
	Healthy(ctx context.Context) bool
}

type apiMetrics struct {
	searches      *metrics.Counter
	searchErrors  *metrics.Counter
	searchSeconds *metrics.Histogram
	indexed       *metrics.Counter
}

type apiServer struct {
	search    searchService
	indexer   indexService
	embed     modelInfo
	directory directoryHealth
	logger    *slog.Logger
	metrics   apiMetrics
}

// SearchFilters narrows a search to agents carrying any of the given tags,
// optionally verified ones only.
type SearchFilters struct {
	Tags     []string `json:"tags"`
	Verified bool     `json:"verified"`
}

// SearchBody is the JSON body for POST /api/v1/semantic/search. TopK and
// MinScore are pointers so an explicit zero can be told apart from absent.
type SearchBody struct {
	Query    string         `json:"query"`
	TopK     *int           `json:"top_k"`
	MinScore *float64       `json:"min_score"`
	Filters  *SearchFilters `json:"filters"`
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.metrics.searches.Inc()

	var body SearchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := domain.SearchRequest{
		Query:    body.Query,
		TopK:     domain.DefaultTopK,
		MinScore: domain.DefaultMinScore,
	}
	if body.TopK != nil {
		req.TopK = *body.TopK
	}
	if body.MinScore != nil {
		req.MinScore = *body.MinScore
	}
	if body.Filters != nil {
		req.Tags = body.Filters.Tags
		req.VerifiedOnly = body.Filters.Verified
	}

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.metrics.searchErrors.Inc()
		s.writeServiceError(w, err, "search failed")
		return
	}
	s.metrics.searchSeconds.Since(start)
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req domain.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.indexer.IndexOne(r.Context(), req); err != nil {
		s.writeServiceError(w, err, "index failed")
		return
	}
	s.metrics.indexed.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "indexed",
		"agent_id":            req.AgentID,
		"embedding_dimension": s.embed.Dimensions(),
	})
}

// IndexAllResponse summarises a full re-index triggered over HTTP.
type IndexAllResponse struct {
	IndexedCount     int     `json:"indexed_count"`
	FailedCount      int     `json:"failed_count"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

func (s *apiServer) handleIndexAll(w http.ResponseWriter, r *http.Request) {
	run, err := s.indexer.IndexAll(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "index-all failed")
		return
	}
	s.metrics.indexed.Add(int64(run.Indexed))
	writeJSON(w, http.StatusOK, IndexAllResponse{
		IndexedCount:     run.Indexed,
		FailedCount:      run.Failed,
		ProcessingTimeMs: float64(run.Duration.Microseconds()) / 1000,
	})
}

// StatsResponse is the JSON response for GET /api/v1/semantic/stats.
type StatsResponse struct {
	TotalAgents        int    `json:"total_agents"`
	Model              string `json:"model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Status             string `json:"status"`
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.search.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalAgents:        count,
		Model:              s.embed.ModelName(),
		EmbeddingDimension: s.embed.Dimensions(),
		Status:             "healthy",
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vectorUp := s.search.Healthy(ctx)
	dbUp := s.directory.Healthy(ctx)
	modelUp := s.embed.Available(ctx)

	status := "ok"
	code := http.StatusOK
	if !vectorUp || !dbUp || !modelUp {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":             status,
		"embedding_model":    s.embed.ModelName(),
		"model_loaded":       modelUp,
		"database_connected": dbUp,
		"vector_connected":   vectorUp,
	})
}

// writeServiceError maps engine errors onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, domain.ErrUnavailable):
		s.logger.Error(logMsg, "err", err)
		writeError(w, http.StatusServiceUnavailable, "dependency unavailable")
	default:
		s.logger.Error(logMsg, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

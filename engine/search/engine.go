// Package search orchestrates semantic agent search. It validates the
// request, embeds the query, delegates ranking to the vector store, and
// decorates each hit with match attribution before returning.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agentmesh/agentsearch/engine/domain"
	"github.com/agentmesh/agentsearch/engine/semantic"
	"github.com/agentmesh/agentsearch/pkg/fn"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticSearcher abstracts the Qdrant-backed vector store.
type SemanticSearcher interface {
	SimilaritySearch(ctx context.Context, embedding []float32, params semantic.SearchParams) ([]semantic.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Healthy(ctx context.Context) bool
}

// Options configures search behaviour.
type Options struct {
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SearchTimeout: 5 * time.Second}
}

// Service runs semantic searches against the agent index.
type Service struct {
	embed  Embedder
	store  SemanticSearcher
	opts   Options
	logger *slog.Logger
}

// New creates a search Service.
func New(embed Embedder, store SemanticSearcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embed: embed, store: store, opts: opts, logger: logger}
}

// Response is the result of one search call.
type Response struct {
	Query            string             `json:"query"`
	Results          []domain.SearchHit `json:"results"`
	TotalResults     int                `json:"total"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
}

// Search embeds the query and returns ranked, attributed hits. The request
// must already carry explicit TopK and MinScore values; defaulting is the
// transport layer's job.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (*Response, error) {
	start := time.Now()

	if err := domain.ValidateSearchRequest(req); err != nil {
		return nil, err
	}

	embedding, err := s.embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.store.SimilaritySearch(searchCtx, embedding, semantic.SearchParams{
		TopK:         req.TopK,
		MinScore:     req.MinScore,
		Tags:         req.Tags,
		VerifiedOnly: req.VerifiedOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("search: similarity search: %w", err)
	}

	hits := fn.Map(results, func(r semantic.SearchResult) domain.SearchHit {
		return domain.SearchHit{
			AgentID:         r.AgentID,
			Card:            r.Card,
			Tags:            r.Tags,
			Verified:        r.Verified,
			SimilarityScore: roundScore(r.Score),
			MatchedOn:       matchedOn(req.Query, r.Card, r.Tags),
		}
	})

	resp := &Response{
		Query:            req.Query,
		Results:          hits,
		TotalResults:     len(hits),
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	s.logger.Info("search complete",
		"query_len", len(req.Query),
		"results", len(hits),
		"top_k", req.TopK,
		"min_score", req.MinScore,
	)
	return resp, nil
}

// Stats reports the number of indexed agents.
func (s *Service) Stats(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("search: count: %w", err)
	}
	return n, nil
}

// Healthy reports whether the vector store is reachable.
func (s *Service) Healthy(ctx context.Context) bool {
	return s.store.Healthy(ctx)
}

// roundScore rounds a similarity score to 4 decimal places so responses are
// stable across runs and backends.
func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}

package domain

import (
	"fmt"
	"strings"
)

// SearchRequest is a validated semantic search request.
type SearchRequest struct {
	Query        string
	TopK         int
	MinScore     float64
	Tags         []string
	VerifiedOnly bool
}

// IndexRequest asks for a single agent to be (re)indexed.
type IndexRequest struct {
	AgentID string    `json:"agent_id"`
	Card    AgentCard `json:"agent_card"`
	Tags    []string  `json:"tags"`
}

// ValidateSearchRequest checks query text and ranking bounds.
func ValidateSearchRequest(r SearchRequest) error {
	if strings.TrimSpace(r.Query) == "" {
		return NewValidationError("query", r.Query, ErrEmptyQuery)
	}
	if r.TopK < MinTopK || r.TopK > MaxTopK {
		return NewValidationError("top_k", fmt.Sprintf("%d", r.TopK), ErrTopKOutOfRange)
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return NewValidationError("min_score", fmt.Sprintf("%g", r.MinScore), ErrMinScoreOutOfRange)
	}
	return nil
}

// ValidateIndexRequest checks a single-agent index request.
func ValidateIndexRequest(r IndexRequest) error {
	if strings.TrimSpace(r.AgentID) == "" {
		return NewValidationError("agent_id", r.AgentID, ErrEmptyAgentID)
	}
	if strings.TrimSpace(r.Card.Name) == "" {
		return NewValidationError("agent_card.name", r.Card.Name, ErrEmptyAgentName)
	}
	return nil
}

// ValidateEmbedText rejects empty or whitespace-only text before it reaches
// the embedding model.
func ValidateEmbedText(text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("text", text, ErrEmptyText)
	}
	return nil
}

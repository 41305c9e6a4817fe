package semantic

import "github.com/agentmesh/agentsearch/engine/domain"

// VectorRecord is a single agent embedding to store in Qdrant.
type VectorRecord struct {
	AgentID      string
	Embedding    []float32
	Card         domain.AgentCard
	Tags         []string
	Verified     bool
	Text         string // canonical text the embedding was produced from
	RegisteredAt string // RFC3339, carried through for snapshot ordering
}

// SearchResult is a single vector search hit with its agent payload.
type SearchResult struct {
	AgentID  string
	Card     domain.AgentCard
	Tags     []string
	Verified bool
	Text     string
	Score    float64 // cosine similarity clamped to [0,1]
}

// SearchParams bound and filter a similarity search. Filters are applied in
// the store, not post-hoc, so TopK counts only qualifying agents.
type SearchParams struct {
	TopK         int
	MinScore     float64
	Tags         []string // match agents sharing at least one tag
	VerifiedOnly bool
}

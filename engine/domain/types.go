// Package domain defines core domain types, constants, and validation for the
// agent search engine. It acts as the validation gate at service entry points.
package domain

import "time"

// Skill describes a single capability advertised on an agent card.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Capabilities lists protocol-level features of an agent.
type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

// AgentCard is the descriptive metadata an agent publishes to the registry.
type AgentCard struct {
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Endpoint        string        `json:"endpoint"`
	ProtocolVersion string        `json:"protocolVersion,omitempty"`
	Capabilities    *Capabilities `json:"capabilities,omitempty"`
	Skills          []Skill       `json:"skills,omitempty"`
}

// RegistryEntry is a directory row as seen by the search core. The directory
// service owns these; the core only reads them for indexing.
type RegistryEntry struct {
	AgentID      string    `json:"agent_id"`
	Card         AgentCard `json:"agent_card"`
	Tags         []string  `json:"tags"`
	Verified     bool      `json:"verified"`
	RegisteredAt time.Time `json:"registered_at"`
}

// SearchHit is a single ranked result. Built per query, never persisted.
type SearchHit struct {
	AgentID         string    `json:"agent_id"`
	Card            AgentCard `json:"agent_card"`
	Tags            []string  `json:"tags"`
	Verified        bool      `json:"verified"`
	SimilarityScore float64   `json:"similarity_score"`
	MatchedOn       string    `json:"matched_on"`
}

// Fields a SearchHit.MatchedOn can report.
const (
	MatchedOnName        = "name"
	MatchedOnDescription = "description"
	MatchedOnSkills      = "skills"
	MatchedOnTags        = "tags"
)

// IndexRun summarises one bulk indexing pass.
type IndexRun struct {
	Indexed  int           `json:"indexed_count"`
	Failed   int           `json:"failed_count"`
	Duration time.Duration `json:"-"`
}

// Search request bounds.
const (
	MinTopK     = 1
	MaxTopK     = 100
	DefaultTopK = 10

	DefaultMinScore = 0.5
)

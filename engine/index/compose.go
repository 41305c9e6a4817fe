package index

import (
	"strings"

	"github.com/agentmesh/agentsearch/engine/domain"
)

// fallbackText is embedded for agents whose card carries no usable text.
const fallbackText = "unknown"

// ComposeAgentText converts an agent card and its tags into the canonical
// text blob fed to the embedder. The segment order is part of the retrieval
// contract: changing it changes what queries an existing index matches, so it
// must only ever change together with a full re-index.
func ComposeAgentText(card domain.AgentCard, tags []string) string {
	var parts []string

	if card.Name != "" {
		parts = append(parts, "Agent: "+card.Name)
	}
	if card.Description != "" {
		parts = append(parts, "Description: "+card.Description)
	}
	for _, skill := range card.Skills {
		seg := "Skill: " + skill.Name
		if skill.Description != "" {
			seg += " - " + skill.Description
		}
		parts = append(parts, seg)
	}
	if len(tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(tags, ", "))
	}

	if len(parts) == 0 {
		if card.Name != "" {
			return card.Name
		}
		return fallbackText
	}
	return strings.Join(parts, " | ")
}

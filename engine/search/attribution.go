package search

import (
	"strings"

	"github.com/agentmesh/agentsearch/engine/domain"
)

// matchedOn reports which card field most plausibly drew the query to this
// agent. Rules run in priority order over case-insensitive substring checks:
// name, then skill names, then tags. When the query appears in none of them
// the hit is purely semantic, which the description field stands in for.
func matchedOn(query string, card domain.AgentCard, tags []string) string {
	q := strings.ToLower(query)
	if q == "" {
		return domain.MatchedOnDescription
	}

	if strings.Contains(strings.ToLower(card.Name), q) {
		return domain.MatchedOnName
	}
	for _, skill := range card.Skills {
		if strings.Contains(strings.ToLower(skill.Name), q) {
			return domain.MatchedOnSkills
		}
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return domain.MatchedOnTags
		}
	}
	return domain.MatchedOnDescription
}

package index

import (
	"testing"

	"github.com/agentmesh/agentsearch/engine/domain"
)

func TestComposeAgentText(t *testing.T) {
	tests := []struct {
		name string
		card domain.AgentCard
		tags []string
		want string
	}{
		{
			name: "full card",
			card: domain.AgentCard{
				Name:        "translator",
				Description: "Translates text between languages",
				Skills: []domain.Skill{
					{Name: "translate", Description: "translate text"},
					{Name: "detect-language"},
				},
			},
			tags: []string{"nlp", "language"},
			want: "Agent: translator | Description: Translates text between languages | " +
				"Skill: translate - translate text | Skill: detect-language | Tags: nlp, language",
		},
		{
			name: "name only",
			card: domain.AgentCard{Name: "solo"},
			want: "Agent: solo",
		},
		{
			name: "no description",
			card: domain.AgentCard{
				Name:   "worker",
				Skills: []domain.Skill{{Name: "compute"}},
			},
			want: "Agent: worker | Skill: compute",
		},
		{
			name: "tags without skills",
			card: domain.AgentCard{Name: "tagged"},
			tags: []string{"a"},
			want: "Agent: tagged | Tags: a",
		},
		{
			name: "empty name with skills",
			card: domain.AgentCard{Skills: []domain.Skill{{Name: "orphan"}}},
			want: "Skill: orphan",
		},
		{
			name: "completely empty card",
			card: domain.AgentCard{},
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComposeAgentText(tt.card, tt.tags)
			if got != tt.want {
				t.Errorf("ComposeAgentText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComposeAgentText_Deterministic(t *testing.T) {
	card := domain.AgentCard{
		Name:        "stable",
		Description: "same input, same output",
		Skills:      []domain.Skill{{Name: "a"}, {Name: "b", Description: "second"}},
	}
	tags := []string{"x", "y", "z"}

	first := ComposeAgentText(card, tags)
	for i := 0; i < 10; i++ {
		if got := ComposeAgentText(card, tags); got != first {
			t.Fatalf("iteration %d: got %q, want %q", i, got, first)
		}
	}
}

func TestComposeAgentText_SkillOrderPreserved(t *testing.T) {
	card := domain.AgentCard{
		Name:   "ordered",
		Skills: []domain.Skill{{Name: "zeta"}, {Name: "alpha"}, {Name: "mid"}},
	}
	want := "Agent: ordered | Skill: zeta | Skill: alpha | Skill: mid"
	if got := ComposeAgentText(card, nil); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

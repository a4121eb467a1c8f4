package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/vector"
)

func evidenceWithNotes(titles ...string) *Evidence {
	e := &Evidence{}
	for i, title := range titles {
		e.Notes = append(e.Notes, vector.NoteHit{
			NoteID: string(rune('a' + i)),
			Title:  title,
		})
	}
	return e
}

func TestSanitizeCitations(t *testing.T) {
	evidence := evidenceWithNotes("Session 3", "The Siege")

	tests := []struct {
		name        string
		text        string
		want        string
		wantDropped int
	}{
		{
			name: "backed citations kept",
			text: "The party met Adam [Note: Session 3] and held the wall [Note: The Siege].",
			want: "The party met Adam [Note: Session 3] and held the wall [Note: The Siege].",
		},
		{
			name:        "invented citation removed",
			text:        "Adam fell [Note: Secret DM Notes] in session 3 [Note: Session 3].",
			want:        "Adam fell in session 3 [Note: Session 3].",
			wantDropped: 1,
		},
		{
			name:        "all citations invented",
			text:        "Everything here is made up [Note: Nowhere].",
			want:        "Everything here is made up .",
			wantDropped: 1,
		},
		{
			name: "no citations",
			text: "Nothing was found about that.",
			want: "Nothing was found about that.",
		},
		{
			name: "whitespace inside marker tolerated",
			text: "See [Note:  Session 3 ].",
			want: "See [Note:  Session 3 ].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := sanitizeCitations(tt.text, evidence)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDropped, dropped)
		})
	}
}

func TestRenderEvidence(t *testing.T) {
	evidence := &Evidence{
		Notes: []vector.NoteHit{
			{NoteID: "n1", Title: "Session 3", Snippet: "The party entered the keep.", Score: 0.9},
		},
		Artifacts: []vector.ArtifactHit{
			{ArtifactID: "a1", Name: "Adam", Type: "character", Score: 0.8},
		},
		Relationships: []vector.RelationshipHit{
			{RelationshipID: "r1", Source: "Adam", Target: "Beth", Label: "KNOWS", Score: 0.7},
		},
	}

	rendered := renderEvidence(evidence)
	assert.Contains(t, rendered, "NOTES:")
	assert.Contains(t, rendered, "Session 3: The party entered the keep.")
	assert.Contains(t, rendered, "Adam (character)")
	assert.Contains(t, rendered, "Adam -KNOWS-> Beth")
}

func TestRenderEvidenceEmpty(t *testing.T) {
	assert.Equal(t, "No results were retrieved.", renderEvidence(&Evidence{}))
}

func TestRenderGraph(t *testing.T) {
	payload := &graph.Payload{
		Nodes: []graph.Node{
			{ID: "uuid-adam", Name: "Adam", Type: "character", Description: "a ranger"},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "uuid-adam", Target: "uuid-beth", Label: "KNOWS", Description: "old rivals"},
		},
	}

	rendered := renderGraph(payload)
	assert.Contains(t, rendered, "Adam (character): a ranger")
	assert.Contains(t, rendered, "-KNOWS->")
}

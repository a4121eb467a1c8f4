// Package graph validates and executes read-only Cypher against the
// campaign artifact graph.
package graph

// Node is one artifact in a graph payload.
type Node struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	CampaignUUID string   `json:"campaignUuid"`
	NoteIDs      []string `json:"noteIds"`
}

// Edge is one directed relationship between two payload nodes.
type Edge struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Reasoning   string   `json:"reasoning"`
	NoteIDs     []string `json:"noteIds"`
}

// Payload is the nodes+edges result of a graph query, shaped for the
// front-end graph renderer.
type Payload struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Empty reports whether the payload carries no nodes.
func (p *Payload) Empty() bool {
	return p == nil || len(p.Nodes) == 0
}

// Package assistant implements the query pipeline: plan, collect,
// optionally walk the graph, synthesize, cache.
package assistant

import (
	"sort"

	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/vector"
)

// Action is the planner's closed decision set. The string values are
// wire format; do not rename.
type Action string

const (
	ActionSearchNotes              Action = "search_notes"
	ActionSearchArtifactsThenGraph Action = "search_artifacts_then_graph"
	ActionSearchRelationsThenGraph Action = "search_relations_then_graph"
	ActionCombinedSearch           Action = "combined_search"
	ActionClarificationNeeded      Action = "clarification_needed"
	ActionOutOfScope               Action = "out_of_scope"
)

// IsValid reports whether a is one of the six known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionSearchNotes, ActionSearchArtifactsThenGraph, ActionSearchRelationsThenGraph,
		ActionCombinedSearch, ActionClarificationNeeded, ActionOutOfScope:
		return true
	}
	return false
}

// RequiresGraph reports whether the action continues into cypher
// generation and graph execution.
func (a Action) RequiresGraph() bool {
	return a == ActionSearchArtifactsThenGraph || a == ActionSearchRelationsThenGraph
}

// Scope is the requested shape of a graph result.
type Scope string

const (
	ScopeRelationships Scope = "relationships" // 1-hop neighborhood
	ScopeFullSubgraph  Scope = "full_subgraph" // 2-hop neighborhood
	ScopeNodeDetails   Scope = "node_details"  // single node
)

func (s Scope) IsValid() bool {
	return s == ScopeRelationships || s == ScopeFullSubgraph || s == ScopeNodeDetails
}

// Decision is the planner's output for one query.
type Decision struct {
	Action    Action
	Reasoning string

	// ArtifactSearchQuery refines the vector lookup for artifact and
	// relationship actions; empty means use the user query.
	ArtifactSearchQuery string

	Scope Scope

	// ClarificationMessage is set when Action is clarification_needed.
	ClarificationMessage string

	// Fallback records that the planner produced an unknown action or
	// unparseable decision and search_notes was substituted.
	Fallback bool
}

// Evidence is the transient bundle of retrieved material grounding one
// answer.
type Evidence struct {
	Notes         []vector.NoteHit
	Artifacts     []vector.ArtifactHit
	Relationships []vector.RelationshipHit

	FoundArtifact     *vector.ArtifactHit
	FoundRelationship *vector.RelationshipHit

	Graph *graph.Payload

	// Degraded lists the blocks that failed during a fan-out where at
	// least one other block succeeded.
	Degraded []string
}

// Empty reports whether no vector material was retrieved.
func (e *Evidence) Empty() bool {
	return len(e.Notes) == 0 && len(e.Artifacts) == 0 && len(e.Relationships) == 0
}

// normalize orders every block deterministically by (score desc, id
// lexicographic) so prompts and responses are stable regardless of the
// fan-out's completion order.
func (e *Evidence) normalize() {
	sort.SliceStable(e.Notes, func(i, j int) bool {
		if e.Notes[i].Score != e.Notes[j].Score {
			return e.Notes[i].Score > e.Notes[j].Score
		}
		return e.Notes[i].NoteID < e.Notes[j].NoteID
	})
	sort.SliceStable(e.Artifacts, func(i, j int) bool {
		if e.Artifacts[i].Score != e.Artifacts[j].Score {
			return e.Artifacts[i].Score > e.Artifacts[j].Score
		}
		return e.Artifacts[i].ArtifactID < e.Artifacts[j].ArtifactID
	})
	sort.SliceStable(e.Relationships, func(i, j int) bool {
		if e.Relationships[i].Score != e.Relationships[j].Score {
			return e.Relationships[i].Score > e.Relationships[j].Score
		}
		return e.Relationships[i].RelationshipID < e.Relationships[j].RelationshipID
	})
}

// Sources returns the note references backing citations, in evidence
// order.
func (e *Evidence) Sources() []Source {
	sources := make([]Source, 0, len(e.Notes))
	for _, note := range e.Notes {
		sources = append(sources, Source{NoteID: note.NoteID, NoteTitle: note.Title})
	}
	return sources
}

// ResponseType tags the assistant response variant.
type ResponseType string

const (
	ResponseText          ResponseType = "text"
	ResponseTextAndGraph  ResponseType = "text_and_graph"
	ResponseClarification ResponseType = "clarification_needed"
	ResponseOutOfScope    ResponseType = "out_of_scope"
	ResponseError         ResponseType = "error"
)

// Source is one cited note.
type Source struct {
	NoteID    string `json:"noteId"`
	NoteTitle string `json:"noteTitle"`
}

// Response is the assistant's answer to one query.
type Response struct {
	ResponseType    ResponseType   `json:"responseType"`
	ErrorType       *string        `json:"errorType"`
	TextResponse    string         `json:"textResponse"`
	GraphData       *graph.Payload `json:"graphData"`
	Sources         []Source       `json:"sources"`
	ExecutedActions []string       `json:"executedActions"`
	DebugInfo       map[string]any `json:"debugInfo"`
}

package assistant

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCypher = "MATCH (a:Greyhawk_Artifact {id: $artifactId, campaign_uuid: $campaignUuid}) " +
	"OPTIONAL MATCH (a)-[r]-(b:Greyhawk_Artifact) WHERE b.campaign_uuid = $campaignUuid RETURN a, r, b"

func debugOptions() Options {
	return Options{IncludeDebugInfo: true}
}

func TestQueryNotesPath(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchNotes, nil).
		synthesis("The party stormed the keep [Note: Session 3].")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "What happened in session 3?")
	require.NoError(t, err)

	assert.Equal(t, ResponseText, response.ResponseType)
	assert.Nil(t, response.ErrorType)
	assert.Contains(t, response.TextResponse, "[Note: Session 3]")
	assert.Len(t, response.Sources, 3)
	assert.Nil(t, response.GraphData)
	assert.Contains(t, response.ExecutedActions, "planning")
	assert.Contains(t, response.ExecutedActions, "search_notes")
	assert.Contains(t, response.ExecutedActions, "synthesis")
}

func TestQueryArtifactGraphPath(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchArtifactsThenGraph, map[string]any{
		"artifact_search_query": "Adam",
		"expected_cypher_scope": "relationships",
	}).
		cypher(validCypher).
		synthesis("Adam knows Beth; they scouted together [Note: Session 2].")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "What are Adam's relationships?")
	require.NoError(t, err)

	assert.Equal(t, ResponseTextAndGraph, response.ResponseType)
	require.NotNil(t, response.GraphData)
	assert.NotEmpty(t, response.GraphData.Nodes)
	require.Len(t, response.GraphData.Edges, 1)
	assert.Equal(t, "KNOWS", response.GraphData.Edges[0].Label)

	// The executor received the anchor and campaign parameters.
	assert.Equal(t, "uuid-adam", p.executor.lastArgs["artifactId"])
	assert.Equal(t, "camp-1", p.executor.lastArgs["campaignUuid"])
}

func TestQueryResponseTypeInvariant(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchNotes, nil).synthesis("plain answer")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "anything")
	require.NoError(t, err)

	// text_and_graph iff graphData present.
	if response.GraphData != nil {
		assert.Equal(t, ResponseTextAndGraph, response.ResponseType)
		assert.NotEmpty(t, response.GraphData.Nodes)
	} else {
		assert.Equal(t, ResponseText, response.ResponseType)
	}
}

func TestQueryMaliciousCypher(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchArtifactsThenGraph, map[string]any{"artifact_search_query": "Adam"}).
		cypher("MATCH (a) DETACH DELETE a RETURN a")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "What are Adam's relationships?")
	require.NoError(t, err)

	assert.Equal(t, ResponseError, response.ResponseType)
	require.NotNil(t, response.ErrorType)
	assert.Equal(t, "invalid_cypher", *response.ErrorType)
	require.NotNil(t, response.DebugInfo)
	assert.Equal(t, "MATCH (a) DETACH DELETE a RETURN a", response.DebugInfo["generatedCypher"])

	// The query never reached the executor.
	assert.Empty(t, p.executor.queries)
}

func TestQueryOutOfScopeSkipsDataSources(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionOutOfScope, nil)

	response, err := p.orchestrator.Query(context.Background(), "camp-1",
		"What are the official grappling rules?")
	require.NoError(t, err)

	assert.Equal(t, ResponseOutOfScope, response.ResponseType)
	assert.Zero(t, p.store.searches.Load())
	assert.Empty(t, p.executor.queries)
	// Only the planning call was made.
	assert.Equal(t, 1, p.llm.callCount())
}

func TestQueryClarification(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionClarificationNeeded, map[string]any{
		"clarification_message": "Which Adam do you mean?",
	})

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "Tell me about him")
	require.NoError(t, err)

	assert.Equal(t, ResponseClarification, response.ResponseType)
	assert.Equal(t, "Which Adam do you mean?", response.TextResponse)
	assert.Zero(t, p.store.searches.Load())
}

func TestQueryCacheHitSkipsLLM(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchNotes, nil).synthesis("cached answer [Note: Session 3]")

	first, err := p.orchestrator.Query(context.Background(), "camp-1", "What happened in session 3?")
	require.NoError(t, err)
	callsAfterFirst := p.llm.callCount()

	// Same query, different surrounding whitespace and case.
	second, err := p.orchestrator.Query(context.Background(), "camp-1", "  what happened in SESSION 3?  ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, p.llm.callCount())
}

func TestQueryInvalidationForcesReexecution(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchNotes, nil).synthesis("answer")

	_, err := p.orchestrator.Query(context.Background(), "camp-1", "q")
	require.NoError(t, err)
	callsAfterFirst := p.llm.callCount()

	removed := p.orchestrator.InvalidateCampaign("camp-1")
	assert.Equal(t, 1, removed)

	_, err = p.orchestrator.Query(context.Background(), "camp-1", "q")
	require.NoError(t, err)
	assert.Greater(t, p.llm.callCount(), callsAfterFirst)
}

func TestQueryInvalidationMidPipelineDiscardsResult(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchNotes, nil).synthesis("answer from before the write")

	gate := p.llm.gateOn(synthesisPrompt)

	done := make(chan *Response, 1)
	go func() {
		resp, err := p.orchestrator.Query(context.Background(), "camp-1", "who is adam?")
		assert.NoError(t, err)
		done <- resp
	}()

	// The pipeline is held open at synthesis when the ingestion side
	// invalidates the campaign.
	<-gate.entered
	removed := p.orchestrator.InvalidateCampaign("camp-1")
	assert.Equal(t, 0, removed)
	close(gate.release)

	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, ResponseText, first.ResponseType)

	// The stale result must not have been cached: the next identical
	// query runs the full pipeline again.
	callsAfterFirst := p.llm.callCount()
	_, err := p.orchestrator.Query(context.Background(), "camp-1", "who is adam?")
	require.NoError(t, err)
	assert.Greater(t, p.llm.callCount(), callsAfterFirst,
		"query after invalidation was served from cache")
}

func TestQueryErrorsAreNotCached(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.plan(ActionSearchArtifactsThenGraph, nil).
		cypher("MATCH (a) DETACH DELETE a RETURN a")

	_, err := p.orchestrator.Query(context.Background(), "camp-1", "q")
	require.NoError(t, err)
	callsAfterFirst := p.llm.callCount()

	_, err = p.orchestrator.Query(context.Background(), "camp-1", "q")
	require.NoError(t, err)
	assert.Greater(t, p.llm.callCount(), callsAfterFirst)
}

func TestQueryInputValidation(t *testing.T) {
	p := newTestPipeline(debugOptions())

	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"whitespace only", "   \t  "},
		{"too long", strings.Repeat("x", 501)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.orchestrator.Query(context.Background(), "camp-1", tt.query)
			var classified *Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, KindInvalidQuery, classified.Kind)
		})
	}

	assert.Zero(t, p.llm.callCount())
}

func TestQueryUnknownCampaign(t *testing.T) {
	p := newTestPipeline(debugOptions())

	_, err := p.orchestrator.Query(context.Background(), "camp-404", "who is Adam?")

	var classified *Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, KindCampaignNotFound, classified.Kind)
}

func TestQueryPlannerFallback(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.llm.responses[planningPrompt] = `{"action": "summon_demon"}`
	p.llm.synthesis("fell back to notes [Note: Session 3]")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "do something weird")
	require.NoError(t, err)

	assert.Equal(t, ResponseText, response.ResponseType)
	assert.Contains(t, response.ExecutedActions, "search_notes")
	require.NotNil(t, response.DebugInfo)
	assert.Equal(t, true, response.DebugInfo["plannerFallback"])
}

func TestQueryDebugInfoWithheldInProduction(t *testing.T) {
	p := newTestPipeline(Options{IncludeDebugInfo: false})
	p.llm.plan(ActionSearchArtifactsThenGraph, nil).
		cypher("MATCH (a) DETACH DELETE a RETURN a")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "q")
	require.NoError(t, err)

	assert.Equal(t, ResponseError, response.ResponseType)
	assert.Nil(t, response.DebugInfo)
}

func TestQueryGraphActionWithoutAnchorSynthesizesAbsence(t *testing.T) {
	p := newTestPipeline(debugOptions())
	p.store.byType["artifact"] = nil
	p.llm.plan(ActionSearchArtifactsThenGraph, map[string]any{"artifact_search_query": "Nobody"}).
		synthesis("No artifact by that name appears in the campaign.")

	response, err := p.orchestrator.Query(context.Background(), "camp-1", "Who is Nobody?")
	require.NoError(t, err)

	assert.Equal(t, ResponseText, response.ResponseType)
	assert.Empty(t, p.executor.queries)
}

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/llms"
	"github.com/tavernkeep/loremaster/pkg/observability"
	"github.com/tavernkeep/loremaster/pkg/prompts"
)

const cypherPrompt = "assistant-cypher-generation"

// GraphQuery is a validated, parameterized Cypher query ready for
// execution.
type GraphQuery struct {
	Cypher    string
	Params    map[string]any
	Reasoning string
}

// CypherGenerator asks a model for a scoped, read-only neighborhood
// query and refuses anything the validator rejects.
type CypherGenerator struct {
	prompts prompts.Fetcher
	llm     llms.Client
	model   string
}

func NewCypherGenerator(fetcher prompts.Fetcher, llm llms.Client, model string) *CypherGenerator {
	return &CypherGenerator{prompts: fetcher, llm: llm, model: model}
}

type cypherOutput struct {
	Reasoning   string `json:"reasoning"`
	CypherQuery string `json:"cypher_query"`
}

// Generate produces the graph query for the found artifact or
// relationship. A query that fails read-only validation is terminal
// for the request; the offending string is carried in the error's
// debug block.
func (g *CypherGenerator) Generate(ctx context.Context, campaign *campaigns.Campaign, decision *Decision, evidence *Evidence) (*GraphQuery, error) {
	tracer := observability.GetTracer("loremaster.assistant")
	ctx, span := tracer.Start(ctx, observability.SpanCypherGeneration,
		trace.WithAttributes(
			attribute.String(observability.AttrCampaignUUID, campaign.UUID),
			attribute.String("cypher.scope", string(decision.Scope)),
		),
	)
	defer span.End()

	variables := map[string]any{
		"campaignLabel": campaign.GraphLabel,
		"scope":         string(decision.Scope),
		"hops":          scopeHops(decision.Scope),
	}
	params := map[string]any{"campaignUuid": campaign.UUID}

	switch {
	case evidence.FoundArtifact != nil:
		variables["targetKind"] = "artifact"
		variables["artifactId"] = evidence.FoundArtifact.ArtifactID
		variables["artifactName"] = evidence.FoundArtifact.Name
		variables["artifactType"] = evidence.FoundArtifact.Type
		params["artifactId"] = evidence.FoundArtifact.ArtifactID
	case evidence.FoundRelationship != nil:
		variables["targetKind"] = "relationship"
		variables["relationshipId"] = evidence.FoundRelationship.RelationshipID
		params["relationshipId"] = evidence.FoundRelationship.RelationshipID
	default:
		return nil, newError(KindPlanningFailure, "no anchor for graph query generation", nil)
	}

	prompt, err := g.prompts.Fetch(ctx, cypherPrompt, prompts.Ref{}, variables)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newError(KindPlanningFailure, "failed to fetch cypher generation prompt", err)
	}

	completion, err := g.llm.Complete(ctx, g.model, chatMessages(prompt), llms.Params{
		ResponseFormat: "json_object",
		PromptName:     prompt.Name,
		PromptVersion:  prompt.Version,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, llms.ErrTimeout) {
			return nil, newError(KindLLMTimeout, "cypher generation model timed out", err)
		}
		return nil, newError(KindPlanningFailure, "cypher generation call failed", err)
	}

	var parsed cypherOutput
	if err := json.Unmarshal([]byte(extractJSON(completion.Text)), &parsed); err != nil {
		invalid := &Error{
			Kind:  KindInvalidCypher,
			Msg:   "cypher generation output was not valid JSON",
			Debug: map[string]any{"generatedCypher": completion.Text},
			Err:   err,
		}
		span.RecordError(invalid)
		span.SetStatus(codes.Error, invalid.Msg)
		return nil, invalid
	}

	if err := graph.ValidateReadOnly(parsed.CypherQuery); err != nil {
		invalid := &Error{
			Kind:  KindInvalidCypher,
			Msg:   fmt.Sprintf("generated query rejected: %v", err),
			Debug: map[string]any{"generatedCypher": parsed.CypherQuery},
			Err:   err,
		}
		span.RecordError(invalid)
		span.SetStatus(codes.Error, invalid.Msg)
		return nil, invalid
	}

	span.SetAttributes(attribute.Int("cypher.length", len(parsed.CypherQuery)))

	return &GraphQuery{
		Cypher:    parsed.CypherQuery,
		Params:    params,
		Reasoning: parsed.Reasoning,
	}, nil
}

// scopeHops maps a result scope to traversal depth.
func scopeHops(s Scope) int {
	switch s {
	case ScopeFullSubgraph:
		return 2
	case ScopeNodeDetails:
		return 0
	default:
		return 1
	}
}

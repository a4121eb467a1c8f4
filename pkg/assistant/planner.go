package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/llms"
	"github.com/tavernkeep/loremaster/pkg/observability"
	"github.com/tavernkeep/loremaster/pkg/prompts"
)

const planningPrompt = "assistant-planning-v1"

// artifactCategories are the type tags artifacts carry in the graph.
var artifactCategories = []string{"character", "location", "item", "event"}

// Planner decides, per query, which retrieval strategy to run.
type Planner struct {
	prompts prompts.Fetcher
	llm     llms.Client
	model   string
}

func NewPlanner(fetcher prompts.Fetcher, llm llms.Client, model string) *Planner {
	return &Planner{prompts: fetcher, llm: llm, model: model}
}

// plannerDecision mirrors the JSON contract of the planning prompt.
type plannerDecision struct {
	Action     string `json:"action"`
	Reasoning  string `json:"reasoning"`
	Parameters struct {
		ArtifactSearchQuery  string `json:"artifact_search_query"`
		ExpectedCypherScope  string `json:"expected_cypher_scope"`
		ClarificationMessage string `json:"clarification_message"`
	} `json:"parameters"`
}

// Plan runs the planning prompt and parses the decision. A malformed
// or unknown decision degrades to search_notes once, with the event
// recorded; only LLM-level failures surface as errors.
func (p *Planner) Plan(ctx context.Context, campaign *campaigns.Campaign, query string) (*Decision, error) {
	tracer := observability.GetTracer("loremaster.assistant")
	ctx, span := tracer.Start(ctx, observability.SpanPlanningDecision,
		trace.WithAttributes(attribute.String(observability.AttrCampaignUUID, campaign.UUID)),
	)
	defer span.End()

	prompt, err := p.prompts.Fetch(ctx, planningPrompt, prompts.Ref{}, map[string]any{
		"query":               query,
		"campaignName":        campaign.Name,
		"campaignDescription": campaign.Description,
		"categories":          strings.Join(artifactCategories, ", "),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newError(KindPlanningFailure, "failed to fetch planning prompt", err)
	}

	completion, err := p.llm.Complete(ctx, p.model, chatMessages(prompt), llms.Params{
		ResponseFormat: "json_object",
		PromptName:     prompt.Name,
		PromptVersion:  prompt.Version,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, llms.ErrTimeout) {
			return nil, newError(KindLLMTimeout, "planning model timed out", err)
		}
		return nil, newError(KindPlanningFailure, "planning model call failed", err)
	}

	decision, fallback := parseDecision(completion.Text)
	if fallback {
		slog.Warn("planner produced unusable decision, degrading to search_notes",
			"campaign", campaign.UUID, "raw", truncate(completion.Text, 200))
		span.AddEvent("planner-fallback")
		span.SetAttributes(attribute.Bool(observability.AttrPlannerFallback, true))
	}

	span.SetAttributes(attribute.String(observability.AttrAction, string(decision.Action)))
	return decision, nil
}

// parseDecision extracts the decision from the model output. The bool
// result reports whether search_notes was substituted.
func parseDecision(raw string) (*Decision, bool) {
	var parsed plannerDecision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return &Decision{Action: ActionSearchNotes, Fallback: true}, true
	}

	action := Action(parsed.Action)
	if !action.IsValid() {
		return &Decision{
			Action:    ActionSearchNotes,
			Reasoning: parsed.Reasoning,
			Fallback:  true,
		}, true
	}

	decision := &Decision{
		Action:               action,
		Reasoning:            parsed.Reasoning,
		ArtifactSearchQuery:  strings.TrimSpace(parsed.Parameters.ArtifactSearchQuery),
		ClarificationMessage: strings.TrimSpace(parsed.Parameters.ClarificationMessage),
	}

	if scope := Scope(parsed.Parameters.ExpectedCypherScope); scope.IsValid() {
		decision.Scope = scope
	} else if action.RequiresGraph() {
		decision.Scope = ScopeRelationships
	}

	return decision, false
}

// extractJSON strips markdown code fences and leading prose around a
// JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// chatMessages converts a registry prompt to LLM messages, projecting
// text prompts into a single user turn.
func chatMessages(prompt *prompts.Prompt) []llms.Message {
	if prompt.Kind == prompts.KindChat {
		messages := make([]llms.Message, len(prompt.Messages))
		for i, m := range prompt.Messages {
			messages[i] = llms.Message{Role: m.Role, Content: m.Content}
		}
		return messages
	}
	return []llms.Message{{Role: "user", Content: prompt.Body}}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/llms"
	"github.com/tavernkeep/loremaster/pkg/observability"
	"github.com/tavernkeep/loremaster/pkg/prompts"
)

const synthesisPrompt = "assistant-synthesis"

// Synthesizer composes the final grounded answer from the evidence
// bundle.
type Synthesizer struct {
	prompts prompts.Fetcher
	llm     llms.Client
	model   string
}

func NewSynthesizer(fetcher prompts.Fetcher, llm llms.Client, model string) *Synthesizer {
	return &Synthesizer{prompts: fetcher, llm: llm, model: model}
}

// Synthesize renders the answer text. Citations are sanitized against
// the evidence afterwards so the response never cites a note the
// sources list cannot back.
func (s *Synthesizer) Synthesize(ctx context.Context, campaign *campaigns.Campaign, decision *Decision, evidence *Evidence, query string) (string, error) {
	tracer := observability.GetTracer("loremaster.assistant")
	ctx, span := tracer.Start(ctx, observability.SpanSynthesis,
		trace.WithAttributes(
			attribute.String(observability.AttrCampaignUUID, campaign.UUID),
			attribute.String(observability.AttrAction, string(decision.Action)),
		),
	)
	defer span.End()

	variables := map[string]any{
		"originalQuery": query,
		"action":        string(decision.Action),
		"campaignName":  campaign.Name,
		"vectorResults": renderEvidence(evidence),
	}
	if evidence.Graph != nil {
		variables["graphResults"] = renderGraph(evidence.Graph)
	}

	prompt, err := s.prompts.Fetch(ctx, synthesisPrompt, prompts.Ref{}, variables)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", newError(KindSynthesisFailure, "failed to fetch synthesis prompt", err)
	}

	completion, err := s.llm.Complete(ctx, s.model, chatMessages(prompt), llms.Params{
		PromptName:    prompt.Name,
		PromptVersion: prompt.Version,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, llms.ErrTimeout) {
			return "", newError(KindLLMTimeout, "synthesis model timed out", err)
		}
		return "", newError(KindSynthesisFailure, "synthesis call failed", err)
	}

	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", newError(KindSynthesisFailure, "synthesis produced empty text", nil)
	}

	text, dropped := sanitizeCitations(text, evidence)
	if dropped > 0 {
		slog.Warn("dropped citations not backed by evidence",
			"campaign", campaign.UUID, "count", dropped)
		span.SetAttributes(attribute.Int("synthesis.citations_dropped", dropped))
	}

	return text, nil
}

var citationPattern = regexp.MustCompile(`\[Note:\s*([^\]]+)\]`)

// sanitizeCitations removes [Note: <title>] markers whose title does
// not appear among the evidence notes, returning the cleaned text and
// the number of markers removed.
func sanitizeCitations(text string, evidence *Evidence) (string, int) {
	known := make(map[string]bool, len(evidence.Notes))
	for _, note := range evidence.Notes {
		known[strings.TrimSpace(note.Title)] = true
	}

	dropped := 0
	cleaned := citationPattern.ReplaceAllStringFunc(text, func(match string) string {
		title := strings.TrimSpace(citationPattern.FindStringSubmatch(match)[1])
		if known[title] {
			return match
		}
		dropped++
		return ""
	})

	if dropped > 0 {
		cleaned = strings.Join(strings.Fields(cleaned), " ")
	}
	return cleaned, dropped
}

// renderEvidence flattens the bundle into the prompt's evidence block.
// The bundle is already deterministically ordered.
func renderEvidence(evidence *Evidence) string {
	var b strings.Builder

	if len(evidence.Notes) > 0 {
		b.WriteString("NOTES:\n")
		for _, n := range evidence.Notes {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", n.NoteID, n.Title, n.Snippet)
		}
	}
	if len(evidence.Artifacts) > 0 {
		b.WriteString("ARTIFACTS:\n")
		for _, a := range evidence.Artifacts {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", a.ArtifactID, a.Name, a.Type)
		}
	}
	if len(evidence.Relationships) > 0 {
		b.WriteString("RELATIONSHIPS:\n")
		for _, r := range evidence.Relationships {
			fmt.Fprintf(&b, "- [%s] %s -%s-> %s\n", r.RelationshipID, r.Source, r.Label, r.Target)
		}
	}

	if b.Len() == 0 {
		return "No results were retrieved."
	}
	return b.String()
}

// renderGraph summarizes the neighborhood payload for the prompt.
func renderGraph(payload *graph.Payload) string {
	var b strings.Builder

	b.WriteString("NODES:\n")
	for _, n := range payload.Nodes {
		fmt.Fprintf(&b, "- %s (%s): %s\n", n.Name, n.Type, n.Description)
	}
	b.WriteString("EDGES:\n")
	for _, e := range payload.Edges {
		fmt.Fprintf(&b, "- %s -%s-> %s: %s\n", e.Source, e.Label, e.Target, e.Description)
	}
	return b.String()
}

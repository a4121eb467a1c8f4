package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/observability"
)

// Options are the orchestrator's per-request budgets and environment
// switches.
type Options struct {
	OverallTimeout time.Duration
	MaxQueryLength int

	// IncludeDebugInfo controls whether error responses carry the
	// debugInfo block. Off in production.
	IncludeDebugInfo bool
}

// Orchestrator drives one query through plan, collect, optional graph
// walk, and synthesis under a single trace.
type Orchestrator struct {
	registry    campaigns.Registry
	planner     *Planner
	collector   *Collector
	generator   *CypherGenerator
	synthesizer *Synthesizer
	executor    graph.Executor
	cache       *QueryCache

	flight singleflight.Group
	opts   Options
}

func NewOrchestrator(
	registry campaigns.Registry,
	planner *Planner,
	collector *Collector,
	generator *CypherGenerator,
	synthesizer *Synthesizer,
	executor graph.Executor,
	cache *QueryCache,
	opts Options,
) *Orchestrator {
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 60 * time.Second
	}
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = 500
	}
	return &Orchestrator{
		registry:    registry,
		planner:     planner,
		collector:   collector,
		generator:   generator,
		synthesizer: synthesizer,
		executor:    executor,
		cache:       cache,
		opts:        opts,
	}
}

// Query answers one question about a campaign. The returned error is
// non-nil only for input-validation failures (unknown campaign,
// bad query) which the HTTP layer maps to 4xx; every other failure is
// reported in-band as an error response.
func (o *Orchestrator) Query(ctx context.Context, campaignUUID, rawQuery string) (*Response, error) {
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		return nil, newError(KindInvalidQuery, "query must not be empty", nil)
	}
	if len(query) > o.opts.MaxQueryLength {
		return nil, newError(KindInvalidQuery,
			fmt.Sprintf("query exceeds %d characters", o.opts.MaxQueryLength), nil)
	}

	campaign, err := o.registry.GetCampaign(ctx, campaignUUID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return nil, newError(KindCampaignNotFound, "unknown campaign", err)
		}
		// Registry outage is an in-band error, not a client mistake.
		return o.errorResponse(ctx, "", newError(KindRetrievalFailure, "campaign lookup failed", err), nil), nil
	}

	key := o.cache.Key(campaign.UUID, query)

	if cached, ok := o.cache.Get(key); ok {
		o.recordQuery(ctx, "", time.Duration(0), true, nil)
		return cached, nil
	}

	// Single-flight collapses concurrent identical misses into one
	// pipeline execution. The epoch is captured before the pipeline
	// runs; Set discards the result if the campaign is invalidated
	// while it is in flight.
	epoch := o.cache.Epoch(campaign.UUID)
	result, err, _ := o.flight.Do(key, func() (any, error) {
		if cached, ok := o.cache.Get(key); ok {
			return cached, nil
		}
		response := o.execute(ctx, campaign, query)
		o.cache.Set(key, campaign.UUID, epoch, response)
		return response, nil
	})
	if err != nil {
		// The pipeline never returns errors through Do.
		return o.errorResponse(ctx, "", newError(KindSynthesisFailure, "pipeline panic", err), nil), nil
	}

	return result.(*Response), nil
}

// InvalidateCampaign evicts the campaign's cached responses and
// returns the number removed. Exposed to the ingestion webhook.
func (o *Orchestrator) InvalidateCampaign(campaignUUID string) int {
	return o.cache.InvalidateAll(campaignUUID)
}

// execute runs the full pipeline under the request trace. All failures
// are converted to error responses here.
func (o *Orchestrator) execute(parent context.Context, campaign *campaigns.Campaign, query string) *Response {
	ctx, cancel := context.WithTimeout(parent, o.opts.OverallTimeout)
	defer cancel()

	tracer := observability.GetTracer("loremaster.assistant")
	ctx, span := tracer.Start(ctx, observability.TraceAssistantQuery,
		trace.WithAttributes(
			attribute.String(observability.AttrTraceName, observability.TraceAssistantQuery),
			attribute.String(observability.AttrCampaignUUID, campaign.UUID),
			attribute.Bool(observability.AttrCacheHit, false),
		),
	)
	defer span.End()

	startTime := time.Now()
	executed := []string{}

	fail := func(err error) *Response {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.recordQuery(ctx, actionOf(executed), time.Since(startTime), false, err)
		return o.errorResponse(ctx, campaign.UUID, err, executed)
	}

	decision, err := o.planner.Plan(ctx, campaign, query)
	if err != nil {
		return fail(o.withTimeoutKind(ctx, err))
	}
	executed = append(executed, "planning", string(decision.Action))
	span.SetAttributes(attribute.String(observability.AttrAction, string(decision.Action)))

	debug := map[string]any{}
	if decision.Reasoning != "" {
		debug["plannerReasoning"] = decision.Reasoning
	}
	if decision.Fallback {
		debug["plannerFallback"] = true
	}

	switch decision.Action {
	case ActionClarificationNeeded:
		message := decision.ClarificationMessage
		if message == "" {
			message = "Could you rephrase your question with a bit more detail?"
		}
		response := o.finishResponse(&Response{
			ResponseType:    ResponseClarification,
			TextResponse:    message,
			Sources:         []Source{},
			ExecutedActions: executed,
		}, debug)
		span.SetStatus(codes.Ok, "")
		o.recordQuery(ctx, string(decision.Action), time.Since(startTime), false, nil)
		return response

	case ActionOutOfScope:
		response := o.finishResponse(&Response{
			ResponseType:    ResponseOutOfScope,
			TextResponse:    "That question is outside this campaign's lore. I can answer questions about its notes, characters, places, and events.",
			Sources:         []Source{},
			ExecutedActions: executed,
		}, debug)
		span.SetStatus(codes.Ok, "")
		o.recordQuery(ctx, string(decision.Action), time.Since(startTime), false, nil)
		return response
	}

	evidence, err := o.collector.Collect(ctx, campaign, decision, query)
	if err != nil {
		return fail(o.withTimeoutKind(ctx, err))
	}
	executed = append(executed, "vector_search")
	if len(evidence.Degraded) > 0 {
		debug["degradedBlocks"] = evidence.Degraded
	}

	if decision.Action.RequiresGraph() {
		if evidence.FoundArtifact == nil && evidence.FoundRelationship == nil {
			// Nothing matched; fall through to synthesis which reports
			// the absence instead of erroring.
			slog.Debug("graph action found no anchor, synthesizing without graph",
				"campaign", campaign.UUID, "action", decision.Action)
		} else {
			graphQuery, err := o.generator.Generate(ctx, campaign, decision, evidence)
			if err != nil {
				return fail(o.withTimeoutKind(ctx, err))
			}
			executed = append(executed, "cypher_generation")
			debug["generatedCypher"] = graphQuery.Cypher

			payload, err := o.executor.Execute(ctx, graphQuery.Cypher, graphQuery.Params)
			if err != nil {
				return fail(o.graphError(ctx, err, graphQuery.Cypher))
			}
			executed = append(executed, "graph_execution")

			if !payload.Empty() {
				evidence.Graph = payload
			}
		}
	}

	text, err := o.synthesizer.Synthesize(ctx, campaign, decision, evidence, query)
	if err != nil {
		return fail(o.withTimeoutKind(ctx, err))
	}
	executed = append(executed, "synthesis")

	response := &Response{
		ResponseType:    ResponseText,
		TextResponse:    text,
		Sources:         evidence.Sources(),
		ExecutedActions: executed,
	}
	if evidence.Graph != nil {
		response.ResponseType = ResponseTextAndGraph
		response.GraphData = evidence.Graph
	}
	response = o.finishResponse(response, debug)

	span.SetStatus(codes.Ok, "")
	o.recordQuery(ctx, string(decision.Action), time.Since(startTime), false, nil)
	return response
}

// withTimeoutKind reclassifies an error as overall_timeout when the
// request budget, not a stage budget, is what expired.
func (o *Orchestrator) withTimeoutKind(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return newError(KindOverallTimeout,
			fmt.Sprintf("request exceeded %v budget", o.opts.OverallTimeout), err)
	}
	return err
}

// graphError maps executor sentinels onto the error taxonomy, keeping
// the offending query in the debug block.
func (o *Orchestrator) graphError(ctx context.Context, err error, cypher string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return o.withTimeoutKind(ctx, err)
	}

	debug := map[string]any{"generatedCypher": cypher}
	switch {
	case errors.Is(err, graph.ErrInvalidQuery):
		return &Error{Kind: KindInvalidCypher, Msg: "query rejected at execution", Debug: debug, Err: err}
	case errors.Is(err, graph.ErrTimeout):
		return &Error{Kind: KindGraphTimeout, Msg: "graph query timed out", Debug: debug, Err: err}
	default:
		return &Error{Kind: KindGraphExecutionFailed, Msg: "graph query failed", Debug: debug, Err: err}
	}
}

// errorResponse renders a classified failure as an in-band error
// response. Debug info is attached only outside production.
func (o *Orchestrator) errorResponse(ctx context.Context, campaignUUID string, err error, executed []string) *Response {
	var classified *Error
	if !errors.As(err, &classified) {
		classified = newError(KindSynthesisFailure, "unclassified failure", err)
	}

	kind := string(classified.Kind)
	if executed == nil {
		executed = []string{}
	}

	slog.Error("assistant query failed",
		"campaign", campaignUUID, "kind", kind, "error", err)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String(observability.AttrErrorType, kind))

	response := &Response{
		ResponseType:    ResponseError,
		ErrorType:       &kind,
		TextResponse:    userMessage(classified.Kind),
		Sources:         []Source{},
		ExecutedActions: executed,
	}

	if o.opts.IncludeDebugInfo {
		debug := map[string]any{"detail": classified.Msg}
		for k, v := range classified.Debug {
			debug[k] = v
		}
		response.DebugInfo = debug
	}

	return response
}

// finishResponse attaches the debug block outside production.
func (o *Orchestrator) finishResponse(response *Response, debug map[string]any) *Response {
	if o.opts.IncludeDebugInfo && len(debug) > 0 {
		response.DebugInfo = debug
	}
	return response
}

func (o *Orchestrator) recordQuery(ctx context.Context, action string, duration time.Duration, cacheHit bool, err error) {
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordQuery(ctx, action, duration, cacheHit, err)
	}
}

// actionOf extracts the planned action from the executed-stage list,
// for metric labels on failures.
func actionOf(executed []string) string {
	if len(executed) >= 2 {
		return executed[1]
	}
	return "unplanned"
}

package observability

// Span and attribute names are a contract with existing dashboards.
// Renaming any of these breaks trace-based alerting; treat as frozen.
const (
	TraceAssistantQuery = "assistant-query"

	SpanPlanningDecision      = "planning-decision"
	SpanVectorSearchNotes     = "vector-search-notes"
	SpanVectorSearchArtifacts = "vector-search-artifacts"
	SpanVectorSearchRelations = "vector-search-relationships"
	SpanCypherGeneration      = "cypher-generation"
	SpanGraphExecution        = "neo4j-query-execution"
	SpanSynthesis             = "response-synthesis"

	AttrGenAISystem        = "gen_ai.system"
	AttrGenAIRequestModel  = "gen_ai.request.model"
	AttrGenAIResponseModel = "gen_ai.response.model"
	AttrGenAIInputTokens   = "gen_ai.usage.input_tokens"
	AttrGenAIOutputTokens  = "gen_ai.usage.output_tokens"
	AttrGenAITotalTokens   = "gen_ai.usage.total_tokens"
	AttrGenAICost          = "gen_ai.usage.cost"

	AttrObservationType          = "langfuse.observation.type"
	AttrObservationPrompt        = "langfuse.observation.prompt.name"
	AttrObservationPromptVersion = "langfuse.observation.prompt.version"
	AttrTraceName                = "langfuse.trace.name"

	ObservationTypeGeneration = "generation"

	AttrCampaignUUID    = "campaign.uuid"
	AttrAction          = "assistant.action"
	AttrCacheHit        = "assistant.cache_hit"
	AttrPlannerFallback = "assistant.planner.fallback"
	AttrErrorType       = "error.type"

	AttrEnvironment = "deployment.environment"
	AttrRelease     = "service.version"

	DefaultServiceName = "loremaster"
)

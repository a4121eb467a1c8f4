package assistant

import "fmt"

// Kind classifies pipeline failures. The string values appear on the
// wire in errorType and on the error.type span attribute.
type Kind string

const (
	KindCampaignNotFound     Kind = "campaign_not_found"
	KindInvalidQuery         Kind = "invalid_query"
	KindPlanningFailure      Kind = "planning_failure"
	KindRetrievalFailure     Kind = "retrieval_failure"
	KindInvalidCypher        Kind = "invalid_cypher"
	KindGraphExecutionFailed Kind = "graph_execution_failed"
	KindGraphTimeout         Kind = "graph_timeout"
	KindLLMTimeout           Kind = "llm_timeout"
	KindSynthesisFailure     Kind = "synthesis_failure"
	KindOverallTimeout       Kind = "overall_timeout"
)

// Error is a classified pipeline failure. Debug carries material for
// the debugInfo block (withheld in production).
type Error struct {
	Kind  Kind
	Msg   string
	Debug map[string]any
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// userMessage maps a kind to the display text of an error response.
func userMessage(kind Kind) string {
	switch kind {
	case KindCampaignNotFound:
		return "The requested campaign could not be found."
	case KindInvalidQuery:
		return "The query is missing, empty, or too long."
	case KindPlanningFailure:
		return "The assistant could not decide how to answer your question. Please try again."
	case KindRetrievalFailure:
		return "The assistant could not reach the campaign's knowledge base. Please try again shortly."
	case KindInvalidCypher:
		return "The assistant generated an invalid graph query and stopped for safety."
	case KindGraphExecutionFailed, KindGraphTimeout:
		return "The assistant could not retrieve the campaign graph. Please try again shortly."
	case KindLLMTimeout, KindOverallTimeout:
		return "The assistant took too long to answer. Please try again."
	default:
		return "An unexpected error occurred."
	}
}

package llms

import "context"

// Message is one turn of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params tunes a single completion call.
type Params struct {
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // "json_object" forces a JSON reply where supported

	// PromptName/PromptVersion bind the call to a registry prompt for
	// observability; empty values mean ad-hoc prompt.
	PromptName    string
	PromptVersion int
}

// Completion is the result of one chat completion.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	ModelUsed    string
	Cost         float64
}

// Client performs chat completions against a configured model.
type Client interface {
	Complete(ctx context.Context, model string, messages []Message, params Params) (*Completion, error)
}

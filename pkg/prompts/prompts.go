// Package prompts fetches versioned prompt templates from the prompt
// registry. Prompts are data: the pipeline never hardcodes template
// text, only template names and variables.
package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrPromptMissing is returned when a template cannot be retrieved
// after bounded retries.
var ErrPromptMissing = errors.New("prompt not found in registry")

type Kind string

const (
	KindText Kind = "text"
	KindChat Kind = "chat"
)

// ChatMessage is one turn of a chat template.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ref selects a template version. Zero value means the production label.
type Ref struct {
	Label   string
	Version int
}

func (r Ref) cacheKey(name string) string {
	if r.Version > 0 {
		return fmt.Sprintf("%s@v%d", name, r.Version)
	}
	label := r.Label
	if label == "" {
		label = "production"
	}
	return name + "@" + label
}

// Prompt is a fetched, rendered template.
type Prompt struct {
	Name    string
	Version int
	Kind    Kind

	// Body is the rendered text for text prompts.
	Body string

	// Messages is the rendered conversation for chat prompts.
	Messages []ChatMessage

	// Raw is the unrendered template as stored in the registry.
	Raw json.RawMessage
}

// Text projects any prompt to plain text. Chat prompts render as
// "[ROLE]: content" lines.
func (p *Prompt) Text() string {
	if p.Kind == KindText {
		return p.Body
	}
	var b strings.Builder
	for i, m := range p.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[" + strings.ToUpper(m.Role) + "]: " + m.Content)
	}
	return b.String()
}

// Interpolate replaces {{KEY}} placeholders with the string form of the
// given variables. Unresolved placeholders are left intact so missing
// variables show up verbatim in output (and in tests).
func Interpolate(template string, variables map[string]any) string {
	if len(variables) == 0 {
		return template
	}
	result := template
	for key, value := range variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", fmt.Sprintf("%v", value))
	}
	return result
}

// Fetcher retrieves and renders templates.
type Fetcher interface {
	// Fetch returns the template rendered with variables, reading
	// through the local cache.
	Fetch(ctx context.Context, name string, ref Ref, variables map[string]any) (*Prompt, error)

	// FetchNoCache bypasses the cache for the read without evicting
	// existing entries.
	FetchNoCache(ctx context.Context, name string, ref Ref, variables map[string]any) (*Prompt, error)
}

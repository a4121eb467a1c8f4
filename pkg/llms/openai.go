// Package llms implements the chat-completion client used by the
// planning, cypher-generation, and synthesis stages.
package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tavernkeep/loremaster/pkg/config"
	"github.com/tavernkeep/loremaster/pkg/httpclient"
	"github.com/tavernkeep/loremaster/pkg/observability"
)

// ErrTimeout marks a completion that exceeded its per-call deadline
// after retries.
var ErrTimeout = errors.New("llm call timed out")

// OpenAIClient implements Client against an OpenAI-compatible
// chat-completions endpoint. All three pipeline models are addressed
// through the same endpoint; the model id is per call.
type OpenAIClient struct {
	cfg        config.LLMConfig
	httpClient *httpclient.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(cfg.RetryDelay),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	)

	return &OpenAIClient{cfg: cfg, httpClient: httpClient}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message, params Params) (*Completion, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("loremaster.llm")
	attrs := []attribute.KeyValue{
		attribute.String(observability.AttrGenAISystem, "openai"),
		attribute.String(observability.AttrGenAIRequestModel, model),
		attribute.String(observability.AttrObservationType, observability.ObservationTypeGeneration),
	}
	if params.PromptName != "" {
		attrs = append(attrs,
			attribute.String(observability.AttrObservationPrompt, params.PromptName),
			attribute.Int(observability.AttrObservationPromptVersion, params.PromptVersion),
		)
	}
	ctx, span := tracer.Start(ctx, "llm-completion", trace.WithAttributes(attrs...))
	defer span.End()

	request := c.buildRequest(model, messages, params)

	response, err := c.makeRequest(ctx, request)
	duration := time.Since(startTime)

	metrics := observability.GetGlobalMetrics()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordLLMCall(ctx, model, duration, 0, 0, err)
		}
		return nil, err
	}

	if response.Error != nil {
		apiErr := fmt.Errorf("LLM API error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		if metrics != nil {
			metrics.RecordLLMCall(ctx, model, duration, 0, 0, apiErr)
		}
		return nil, apiErr
	}

	if len(response.Choices) == 0 {
		noChoiceErr := fmt.Errorf("no response choices returned")
		span.RecordError(noChoiceErr)
		span.SetStatus(codes.Error, "no choices")
		if metrics != nil {
			metrics.RecordLLMCall(ctx, model, duration, 0, 0, noChoiceErr)
		}
		return nil, noChoiceErr
	}

	text := response.Choices[0].Message.Content

	inputTokens := response.Usage.PromptTokens
	outputTokens := response.Usage.CompletionTokens
	totalTokens := response.Usage.TotalTokens
	if totalTokens == 0 {
		// Some proxies strip usage; estimate so cost accounting stays
		// plausible rather than silently zero.
		inputTokens = estimateTokens(model, messages)
		outputTokens = estimateTokens(model, []Message{{Role: "assistant", Content: text}})
		totalTokens = inputTokens + outputTokens
	}

	modelUsed := response.Model
	if modelUsed == "" {
		modelUsed = model
	}

	completion := &Completion{
		Text:         text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  totalTokens,
		ModelUsed:    modelUsed,
		Cost:         CostFor(modelUsed, inputTokens, outputTokens),
	}

	span.SetAttributes(
		attribute.String(observability.AttrGenAIResponseModel, modelUsed),
		attribute.Int(observability.AttrGenAIInputTokens, inputTokens),
		attribute.Int(observability.AttrGenAIOutputTokens, outputTokens),
		attribute.Int(observability.AttrGenAITotalTokens, totalTokens),
		attribute.Float64(observability.AttrGenAICost, completion.Cost),
	)

	if metrics != nil {
		metrics.RecordLLMCall(ctx, modelUsed, duration, inputTokens, outputTokens, nil)
	}

	return completion, nil
}

func (c *OpenAIClient) buildRequest(model string, messages []Message, params Params) chatRequest {
	temperature := params.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	request := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   &maxTokens,
		Temperature: temperature,
	}
	if params.ResponseFormat != "" {
		request.ResponseFormat = &responseFormat{Type: params.ResponseFormat}
	}
	return request
}

func (c *OpenAIClient) makeRequest(ctx context.Context, request chatRequest) (*chatResponse, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Host+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	return &response, nil
}

// estimateTokens counts tokens with tiktoken, falling back to a
// character heuristic for models without a registered encoding.
func estimateTokens(model string, messages []Message) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}

	total := 0
	for _, m := range messages {
		if err == nil {
			total += len(enc.Encode(m.Content, nil, nil))
		} else {
			total += len(m.Content) / 4
		}
		total += 4 // message framing overhead
	}
	return total
}

var _ Client = (*OpenAIClient)(nil)

package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tavernkeep/loremaster/pkg/config"
	"github.com/tavernkeep/loremaster/pkg/httpclient"
)

const fetchAttempts = 2

// RegistryClient talks to a langfuse-compatible prompt registry over
// its public HTTP API and memoizes raw templates with a TTL.
type RegistryClient struct {
	cfg        config.PromptRegistryConfig
	httpClient *httpclient.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	template  registryPrompt
	fetchedAt time.Time
}

// registryPrompt mirrors the registry's wire format. Prompt is either
// a JSON string (text kind) or an array of {role, content} (chat kind).
type registryPrompt struct {
	Name    string          `json:"name"`
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Prompt  json.RawMessage `json:"prompt"`
}

func NewRegistryClient(cfg config.PromptRegistryConfig) *RegistryClient {
	return &RegistryClient{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(fetchAttempts-1),
			httpclient.WithBaseDelay(time.Second),
		),
		cache: make(map[string]cacheEntry),
	}
}

func (c *RegistryClient) Fetch(ctx context.Context, name string, ref Ref, variables map[string]any) (*Prompt, error) {
	key := ref.cacheKey(name)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.cfg.CacheTTL {
		return render(entry.template, variables)
	}

	return c.fetchAndCache(ctx, name, ref, variables)
}

func (c *RegistryClient) FetchNoCache(ctx context.Context, name string, ref Ref, variables map[string]any) (*Prompt, error) {
	template, err := c.fetchRemote(ctx, name, ref)
	if err != nil {
		return nil, err
	}
	return render(*template, variables)
}

func (c *RegistryClient) fetchAndCache(ctx context.Context, name string, ref Ref, variables map[string]any) (*Prompt, error) {
	template, err := c.fetchRemote(ctx, name, ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[ref.cacheKey(name)] = cacheEntry{template: *template, fetchedAt: time.Now()}
	c.mu.Unlock()

	return render(*template, variables)
}

func (c *RegistryClient) fetchRemote(ctx context.Context, name string, ref Ref) (*registryPrompt, error) {
	endpoint := c.cfg.Host + "/api/public/v2/prompts/" + url.PathEscape(name)

	query := url.Values{}
	if ref.Version > 0 {
		query.Set("version", strconv.Itoa(ref.Version))
	} else if ref.Label != "" {
		query.Set("label", ref.Label)
	} else {
		query.Set("label", "production")
	}
	endpoint += "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	req.SetBasicAuth(c.cfg.PublicKey, c.cfg.SecretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %q", ErrPromptMissing, name)
		}
		return nil, fmt.Errorf("%w: %q: %v", ErrPromptMissing, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q", ErrPromptMissing, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %q: registry returned status %d", ErrPromptMissing, name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}

	var template registryPrompt
	if err := json.Unmarshal(body, &template); err != nil {
		return nil, fmt.Errorf("failed to decode prompt %q: %w", name, err)
	}

	return &template, nil
}

func render(template registryPrompt, variables map[string]any) (*Prompt, error) {
	prompt := &Prompt{
		Name:    template.Name,
		Version: template.Version,
		Raw:     template.Prompt,
	}

	switch template.Type {
	case "chat":
		prompt.Kind = KindChat
		var messages []ChatMessage
		if err := json.Unmarshal(template.Prompt, &messages); err != nil {
			return nil, fmt.Errorf("chat prompt %q has malformed body: %w", template.Name, err)
		}
		prompt.Messages = make([]ChatMessage, len(messages))
		for i, m := range messages {
			prompt.Messages[i] = ChatMessage{
				Role:    m.Role,
				Content: Interpolate(m.Content, variables),
			}
		}
	default:
		prompt.Kind = KindText
		var body string
		if err := json.Unmarshal(template.Prompt, &body); err != nil {
			return nil, fmt.Errorf("text prompt %q has malformed body: %w", template.Name, err)
		}
		prompt.Body = Interpolate(body, variables)
	}

	return prompt, nil
}

var _ Fetcher = (*RegistryClient)(nil)

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/llms"
	"github.com/tavernkeep/loremaster/pkg/prompts"
	"github.com/tavernkeep/loremaster/pkg/vector"
)

// ---- campaign registry ----

type fakeRegistry struct {
	campaigns map[string]*campaigns.Campaign
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		campaigns: map[string]*campaigns.Campaign{
			"camp-1": {
				UUID:             "camp-1",
				Name:             "Greyhawk",
				Description:      "A classic campaign",
				GraphLabel:       "Greyhawk",
				VectorCollection: "campaign_camp_1",
			},
		},
	}
}

func (r *fakeRegistry) GetCampaign(ctx context.Context, uuid string) (*campaigns.Campaign, error) {
	c, ok := r.campaigns[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", campaigns.ErrNotFound, uuid)
	}
	return c, nil
}

func (r *fakeRegistry) IsNoteInCampaign(ctx context.Context, campaignUUID, noteUUID string) (bool, error) {
	return true, nil
}

// ---- prompt fetcher ----

// fakeFetcher serves minimal text templates so fetches never hit the
// network. The template body carries the prompt name for traceability.
type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(ctx context.Context, name string, ref prompts.Ref, variables map[string]any) (*prompts.Prompt, error) {
	return &prompts.Prompt{
		Name:    name,
		Version: 1,
		Kind:    prompts.KindText,
		Body:    prompts.Interpolate("["+name+"] {{query}}{{originalQuery}}", variables),
	}, nil
}

func (f *fakeFetcher) FetchNoCache(ctx context.Context, name string, ref prompts.Ref, variables map[string]any) (*prompts.Prompt, error) {
	return f.Fetch(ctx, name, ref, variables)
}

// ---- llm client ----

// scriptedLLM answers by the registry prompt bound to the call, so one
// client serves planning, cypher generation, and synthesis.
type scriptedLLM struct {
	mu        sync.Mutex
	responses map[string]string // prompt name -> completion text
	errs      map[string]error
	gates     map[string]*llmGate
	calls     []string
}

// llmGate holds one call to a prompt open until the test releases it.
type llmGate struct {
	entered chan struct{}
	release chan struct{}
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		responses: map[string]string{},
		errs:      map[string]error{},
		gates:     map[string]*llmGate{},
	}
}

// gateOn arranges for the next call bound to the prompt to signal
// entered and block until release is closed. One-shot; later calls to
// the same prompt pass through.
func (l *scriptedLLM) gateOn(prompt string) *llmGate {
	g := &llmGate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	l.mu.Lock()
	l.gates[prompt] = g
	l.mu.Unlock()
	return g
}

func (l *scriptedLLM) plan(action Action, params map[string]any) *scriptedLLM {
	decision := map[string]any{"action": string(action), "reasoning": "test", "parameters": params}
	raw, _ := json.Marshal(decision)
	l.responses[planningPrompt] = string(raw)
	return l
}

func (l *scriptedLLM) cypher(query string) *scriptedLLM {
	raw, _ := json.Marshal(map[string]string{"reasoning": "test", "cypher_query": query})
	l.responses[cypherPrompt] = string(raw)
	return l
}

func (l *scriptedLLM) synthesis(text string) *scriptedLLM {
	l.responses[synthesisPrompt] = text
	return l
}

func (l *scriptedLLM) Complete(ctx context.Context, model string, messages []llms.Message, params llms.Params) (*llms.Completion, error) {
	l.mu.Lock()
	l.calls = append(l.calls, params.PromptName)
	text, ok := l.responses[params.PromptName]
	err := l.errs[params.PromptName]
	gate := l.gates[params.PromptName]
	delete(l.gates, params.PromptName)
	l.mu.Unlock()

	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no scripted response for prompt %q", params.PromptName)
	}
	return &llms.Completion{
		Text:         text,
		InputTokens:  10,
		OutputTokens: 20,
		TotalTokens:  30,
		ModelUsed:    model,
	}, nil
}

func (l *scriptedLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// ---- vector store ----

// fakeStore serves canned points per type filter, regardless of the
// query vector.
type fakeStore struct {
	byType   map[string][]vector.Result
	failType map[string]error
	searches atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byType: map[string][]vector.Result{
			"note": {
				{ID: "p1", Score: 0.91, Metadata: map[string]any{
					"note_id": "note-1", "title": "Session 3", "content": "The party stormed the keep."}},
				{ID: "p2", Score: 0.85, Metadata: map[string]any{
					"note_id": "note-2", "title": "Session 2", "content": "Adam scouted ahead."}},
				{ID: "p3", Score: 0.70, Metadata: map[string]any{
					"note_id": "note-3", "title": "Session 1", "content": "The party formed."}},
			},
			"artifact": {
				{ID: "p4", Score: 0.88, Metadata: map[string]any{
					"artifact_id": "uuid-adam", "name": "Adam", "artifact_type": "character"}},
			},
			"relation": {
				{ID: "p5", Score: 0.80, Metadata: map[string]any{
					"relationship_id": "uuid-knows", "source": "Adam", "target": "Beth", "label": "KNOWS"}},
			},
		},
		failType: map[string]error{},
	}
}

func (s *fakeStore) Search(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
	s.searches.Add(1)
	kind, _ := filter["type"].(string)
	if err := s.failType[kind]; err != nil {
		return nil, err
	}
	results := s.byType[kind]
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}

func (s *fakeStore) Close() error { return nil }

// ---- embedder ----

type fakeEmbedder struct{}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}

func (e *fakeEmbedder) Dimension() int { return 4 }

// ---- graph executor ----

type fakeExecutor struct {
	payload *graph.Payload
	err     error

	mu       sync.Mutex
	queries  []string
	lastArgs map[string]any
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		payload: &graph.Payload{
			Nodes: []graph.Node{
				{ID: "uuid-adam", Name: "Adam", Type: "character", CampaignUUID: "camp-1", NoteIDs: []string{"note-2"}},
				{ID: "uuid-beth", Name: "Beth", Type: "character", CampaignUUID: "camp-1", NoteIDs: []string{}},
			},
			Edges: []graph.Edge{
				{ID: "uuid-knows", Source: "uuid-adam", Target: "uuid-beth", Label: "KNOWS", NoteIDs: []string{}},
			},
		},
	}
}

func (e *fakeExecutor) Execute(ctx context.Context, cypher string, params map[string]any) (*graph.Payload, error) {
	// Same guard as the real executor: reject anything the validator
	// rejects, whatever the test scripted upstream.
	if err := graph.ValidateReadOnly(cypher); err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrInvalidQuery, err)
	}

	e.mu.Lock()
	e.queries = append(e.queries, cypher)
	e.lastArgs = params
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	return e.payload, nil
}

func (e *fakeExecutor) Close(ctx context.Context) error { return nil }

// ---- pipeline assembly ----

type testPipeline struct {
	orchestrator *Orchestrator
	llm          *scriptedLLM
	store        *fakeStore
	executor     *fakeExecutor
	cache        *QueryCache
}

func newTestPipeline(opts Options) *testPipeline {
	llm := newScriptedLLM()
	store := newFakeStore()
	executor := newFakeExecutor()
	cache := NewQueryCache(0)
	fetcher := &fakeFetcher{}

	search := vector.NewSearchAdapter(store, &fakeEmbedder{}, 50)

	orchestrator := NewOrchestrator(
		newFakeRegistry(),
		NewPlanner(fetcher, llm, "gpt-4o"),
		NewCollector(search, 5),
		NewCypherGenerator(fetcher, llm, "gpt-4o-mini"),
		NewSynthesizer(fetcher, llm, "gpt-4o"),
		executor,
		cache,
		opts,
	)

	return &testPipeline{
		orchestrator: orchestrator,
		llm:          llm,
		store:        store,
		executor:     executor,
		cache:        cache,
	}
}

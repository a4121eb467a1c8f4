package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/vector"
)

// Collector fans out to the vector adapter according to the planning
// decision and assembles the evidence bundle.
type Collector struct {
	search   *vector.SearchAdapter
	kDefault int
}

func NewCollector(search *vector.SearchAdapter, kDefault int) *Collector {
	if kDefault <= 0 {
		kDefault = 5
	}
	return &Collector{search: search, kDefault: kDefault}
}

// Collect retrieves the vector evidence for one decision. Blocks of a
// combined search degrade individually; only the loss of an action's
// sole data source is an error.
func (c *Collector) Collect(ctx context.Context, campaign *campaigns.Campaign, decision *Decision, query string) (*Evidence, error) {
	evidence := &Evidence{}
	collection := campaign.VectorCollection

	// The planner may refine the lookup text for graph-bound actions.
	lookupQuery := query
	if decision.ArtifactSearchQuery != "" {
		lookupQuery = decision.ArtifactSearchQuery
	}

	switch decision.Action {
	case ActionSearchNotes:
		notes, err := c.search.SearchNotes(ctx, collection, query, c.kDefault)
		if err != nil {
			return nil, newError(KindRetrievalFailure, "note search failed", err)
		}
		evidence.Notes = notes

	case ActionSearchArtifactsThenGraph:
		artifacts, err := c.search.SearchArtifacts(ctx, collection, lookupQuery, c.kDefault)
		if err != nil {
			return nil, newError(KindRetrievalFailure, "artifact search failed", err)
		}
		evidence.Artifacts = artifacts

	case ActionSearchRelationsThenGraph:
		relationships, err := c.search.SearchRelationships(ctx, collection, lookupQuery, c.kDefault)
		if err != nil {
			return nil, newError(KindRetrievalFailure, "relationship search failed", err)
		}
		evidence.Relationships = relationships

	case ActionCombinedSearch:
		if err := c.collectCombined(ctx, collection, query, evidence); err != nil {
			return nil, err
		}

	default:
		return nil, newError(KindPlanningFailure, fmt.Sprintf("action %q requires no collection", decision.Action), nil)
	}

	evidence.normalize()

	// The top-ranked hit anchors the subsequent graph walk.
	if decision.Action == ActionSearchArtifactsThenGraph && len(evidence.Artifacts) > 0 {
		evidence.FoundArtifact = &evidence.Artifacts[0]
	}
	if decision.Action == ActionSearchRelationsThenGraph && len(evidence.Relationships) > 0 {
		evidence.FoundRelationship = &evidence.Relationships[0]
	}

	return evidence, nil
}

// collectCombined runs the three typed searches concurrently. A failed
// block is recorded as degraded; if all three fail the action has no
// data source left and the whole collection fails.
func (c *Collector) collectCombined(ctx context.Context, collection, query string, evidence *Evidence) error {
	var mu sync.Mutex
	var firstErr error

	degrade := func(block string, err error) {
		mu.Lock()
		defer mu.Unlock()
		evidence.Degraded = append(evidence.Degraded, block)
		if firstErr == nil {
			firstErr = err
		}
		slog.Warn("combined search block failed", "block", block, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		notes, err := c.search.SearchNotes(gctx, collection, query, c.kDefault)
		if err != nil {
			degrade("notes", err)
			return nil
		}
		mu.Lock()
		evidence.Notes = notes
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		artifacts, err := c.search.SearchArtifacts(gctx, collection, query, c.kDefault)
		if err != nil {
			degrade("artifacts", err)
			return nil
		}
		mu.Lock()
		evidence.Artifacts = artifacts
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		relationships, err := c.search.SearchRelationships(gctx, collection, query, c.kDefault)
		if err != nil {
			degrade("relationships", err)
			return nil
		}
		mu.Lock()
		evidence.Relationships = relationships
		mu.Unlock()
		return nil
	})

	// Goroutines never return errors directly; Wait only observes
	// context cancellation.
	if err := g.Wait(); err != nil {
		return newError(KindRetrievalFailure, "combined search canceled", err)
	}

	if len(evidence.Degraded) == 3 {
		return newError(KindRetrievalFailure, "all combined search blocks failed", firstErr)
	}
	return nil
}

package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tavernkeep/loremaster/pkg/embedders"
	"github.com/tavernkeep/loremaster/pkg/observability"
)

// ErrRetrieval marks an embedding or vector store failure. Callers
// translate it to the retrieval-failure response kind.
var ErrRetrieval = errors.New("vector retrieval failed")

// Point type discriminators in the per-campaign collections.
const (
	TypeNote     = "note"
	TypeArtifact = "artifact"
	TypeRelation = "relation"
)

// NoteHit is a scored note from semantic search.
type NoteHit struct {
	NoteID  string
	Title   string
	Snippet string
	Score   float32
}

// ArtifactHit is a scored artifact from semantic search.
type ArtifactHit struct {
	ArtifactID string
	Name       string
	Type       string
	Score      float32
}

// RelationshipHit is a scored relationship from semantic search.
type RelationshipHit struct {
	RelationshipID string
	Source         string
	Target         string
	Label          string
	Score          float32
}

// SearchAdapter performs typed semantic search over a campaign's
// vector collection.
type SearchAdapter struct {
	store    Store
	embedder embedders.Embedder
	kMax     int
}

func NewSearchAdapter(store Store, embedder embedders.Embedder, kMax int) *SearchAdapter {
	if kMax <= 0 {
		kMax = 50
	}
	return &SearchAdapter{store: store, embedder: embedder, kMax: kMax}
}

func (a *SearchAdapter) SearchNotes(ctx context.Context, collection, query string, k int) ([]NoteHit, error) {
	results, err := a.search(ctx, observability.SpanVectorSearchNotes, collection, query, k, TypeNote)
	if err != nil {
		return nil, err
	}

	hits := make([]NoteHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, NoteHit{
			NoteID:  stringField(r.Metadata, "note_id", r.ID),
			Title:   stringField(r.Metadata, "title", ""),
			Snippet: stringField(r.Metadata, "content", ""),
			Score:   r.Score,
		})
	}
	return hits, nil
}

func (a *SearchAdapter) SearchArtifacts(ctx context.Context, collection, query string, k int) ([]ArtifactHit, error) {
	results, err := a.search(ctx, observability.SpanVectorSearchArtifacts, collection, query, k, TypeArtifact)
	if err != nil {
		return nil, err
	}

	hits := make([]ArtifactHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ArtifactHit{
			ArtifactID: stringField(r.Metadata, "artifact_id", r.ID),
			Name:       stringField(r.Metadata, "name", ""),
			Type:       stringField(r.Metadata, "artifact_type", ""),
			Score:      r.Score,
		})
	}
	return hits, nil
}

func (a *SearchAdapter) SearchRelationships(ctx context.Context, collection, query string, k int) ([]RelationshipHit, error) {
	results, err := a.search(ctx, observability.SpanVectorSearchRelations, collection, query, k, TypeRelation)
	if err != nil {
		return nil, err
	}

	hits := make([]RelationshipHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, RelationshipHit{
			RelationshipID: stringField(r.Metadata, "relationship_id", r.ID),
			Source:         stringField(r.Metadata, "source", ""),
			Target:         stringField(r.Metadata, "target", ""),
			Label:          stringField(r.Metadata, "label", ""),
			Score:          r.Score,
		})
	}
	return hits, nil
}

func (a *SearchAdapter) search(ctx context.Context, spanName, collection, query string, k int, pointType string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if collection == "" {
		return nil, fmt.Errorf("campaign has no vector collection")
	}
	if k < 1 {
		k = 1
	}
	if k > a.kMax {
		k = a.kMax
	}

	tracer := observability.GetTracer("loremaster.vector")
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("vector.collection", collection),
			attribute.String("vector.type", pointType),
			attribute.Int("vector.k", k),
		),
	)
	defer span.End()

	startTime := time.Now()
	metrics := observability.GetGlobalMetrics()

	exists, err := a.store.CollectionExists(ctx, collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordVectorSearch(ctx, pointType, time.Since(startTime), err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if !exists {
		// A campaign whose collection has not been created yet simply
		// has nothing indexed.
		span.SetAttributes(attribute.Bool("vector.collection_missing", true))
		return nil, nil
	}

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordVectorSearch(ctx, pointType, time.Since(startTime), err)
		}
		return nil, fmt.Errorf("%w: embedding: %v", ErrRetrieval, err)
	}

	results, err := a.store.Search(ctx, collection, embedding, k, map[string]any{"type": pointType})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordVectorSearch(ctx, pointType, time.Since(startTime), err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	span.SetAttributes(attribute.Int("vector.results", len(results)))
	if metrics != nil {
		metrics.RecordVectorSearch(ctx, pointType, time.Since(startTime), nil)
	}

	return results, nil
}

func stringField(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

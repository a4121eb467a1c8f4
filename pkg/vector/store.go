// Package vector provides the read-only vector store access used for
// semantic search over notes, artifacts, and relationships.
package vector

import "context"

// Result is one scored point from a similarity search.
type Result struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Store is the narrow read-only interface the search adapter needs.
// The ingestion pipeline owns all writes; this service never upserts.
type Store interface {
	// Search returns up to topK points from collection ordered by
	// descending similarity, restricted to points whose payload
	// matches every filter entry (keyword match).
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// CollectionExists reports whether the collection is present.
	// Searching a missing collection is not an error for callers;
	// they receive an empty result instead.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	Close() error
}

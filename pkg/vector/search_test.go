package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	results    []Result
	searchErr  error
	exists     bool
	existsErr  error
	lastTopK   int
	lastFilter map[string]any
}

func (s *stubStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	s.lastTopK = topK
	s.lastFilter = filter
	return s.results, s.searchErr
}

func (s *stubStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return s.exists, s.existsErr
}

func (s *stubStore) Close() error { return nil }

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2}, nil
}

func (e *stubEmbedder) Dimension() int { return 2 }

func TestSearchNotesMapsMetadata(t *testing.T) {
	store := &stubStore{
		exists: true,
		results: []Result{
			{ID: "p1", Score: 0.9, Metadata: map[string]any{
				"note_id": "note-1", "title": "Session 3", "content": "The keep fell."}},
			{ID: "p2", Score: 0.5, Metadata: map[string]any{}},
		},
	}
	adapter := NewSearchAdapter(store, &stubEmbedder{}, 50)

	hits, err := adapter.SearchNotes(context.Background(), "campaign_x", "keep", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, NoteHit{NoteID: "note-1", Title: "Session 3", Snippet: "The keep fell.", Score: 0.9}, hits[0])
	// Missing metadata falls back to the point id.
	assert.Equal(t, "p2", hits[1].NoteID)

	assert.Equal(t, map[string]any{"type": TypeNote}, store.lastFilter)
}

func TestSearchArtifactsTypeFilter(t *testing.T) {
	store := &stubStore{exists: true}
	adapter := NewSearchAdapter(store, &stubEmbedder{}, 50)

	_, err := adapter.SearchArtifacts(context.Background(), "campaign_x", "Adam", 5)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": TypeArtifact}, store.lastFilter)

	_, err = adapter.SearchRelationships(context.Background(), "campaign_x", "Adam", 5)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": TypeRelation}, store.lastFilter)
}

func TestSearchMissingCollectionIsEmptyNotError(t *testing.T) {
	adapter := NewSearchAdapter(&stubStore{exists: false}, &stubEmbedder{}, 50)

	hits, err := adapter.SearchNotes(context.Background(), "campaign_x", "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestSearchKClamping(t *testing.T) {
	store := &stubStore{exists: true}
	adapter := NewSearchAdapter(store, &stubEmbedder{}, 10)

	_, err := adapter.SearchNotes(context.Background(), "campaign_x", "q", 500)
	require.NoError(t, err)
	assert.Equal(t, 10, store.lastTopK)

	_, err = adapter.SearchNotes(context.Background(), "campaign_x", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lastTopK)
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	adapter := NewSearchAdapter(&stubStore{exists: true}, &stubEmbedder{}, 10)

	_, err := adapter.SearchNotes(context.Background(), "campaign_x", "   ", 5)
	assert.Error(t, err)
}

func TestSearchFailuresWrapRetrieval(t *testing.T) {
	t.Run("store failure", func(t *testing.T) {
		store := &stubStore{exists: true, searchErr: errors.New("grpc unavailable")}
		adapter := NewSearchAdapter(store, &stubEmbedder{}, 10)

		_, err := adapter.SearchNotes(context.Background(), "campaign_x", "q", 5)
		assert.ErrorIs(t, err, ErrRetrieval)
	})

	t.Run("embedding failure", func(t *testing.T) {
		adapter := NewSearchAdapter(&stubStore{exists: true}, &stubEmbedder{err: errors.New("401")}, 10)

		_, err := adapter.SearchNotes(context.Background(), "campaign_x", "q", 5)
		assert.ErrorIs(t, err, ErrRetrieval)
	})

	t.Run("existence check failure", func(t *testing.T) {
		store := &stubStore{existsErr: errors.New("timeout")}
		adapter := NewSearchAdapter(store, &stubEmbedder{}, 10)

		_, err := adapter.SearchNotes(context.Background(), "campaign_x", "q", 5)
		assert.ErrorIs(t, err, ErrRetrieval)
	})
}

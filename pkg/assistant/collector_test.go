package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavernkeep/loremaster/pkg/vector"
)

func newTestCollector(store *fakeStore) *Collector {
	search := vector.NewSearchAdapter(store, &fakeEmbedder{}, 50)
	return NewCollector(search, 5)
}

func testCampaignAndCollector(t *testing.T, store *fakeStore) (*Collector, *fakeRegistry) {
	t.Helper()
	return newTestCollector(store), newFakeRegistry()
}

func TestCollectNotes(t *testing.T) {
	collector, registry := testCampaignAndCollector(t, newFakeStore())
	campaign := registry.campaigns["camp-1"]

	evidence, err := collector.Collect(context.Background(), campaign,
		&Decision{Action: ActionSearchNotes}, "what happened in session 3?")
	require.NoError(t, err)

	require.Len(t, evidence.Notes, 3)
	assert.Equal(t, "note-1", evidence.Notes[0].NoteID)
	assert.Nil(t, evidence.FoundArtifact)
	assert.Empty(t, evidence.Degraded)
}

func TestCollectArtifactsPicksTopHitAsAnchor(t *testing.T) {
	store := newFakeStore()
	store.byType["artifact"] = append(store.byType["artifact"], vector.Result{
		ID: "p9", Score: 0.95, Metadata: map[string]any{
			"artifact_id": "uuid-keep", "name": "The Keep", "artifact_type": "location"},
	})
	collector, registry := testCampaignAndCollector(t, store)
	campaign := registry.campaigns["camp-1"]

	evidence, err := collector.Collect(context.Background(), campaign,
		&Decision{Action: ActionSearchArtifactsThenGraph, ArtifactSearchQuery: "Adam"}, "what are Adam's relationships?")
	require.NoError(t, err)

	require.NotNil(t, evidence.FoundArtifact)
	// Highest score wins regardless of the store's return order.
	assert.Equal(t, "uuid-keep", evidence.FoundArtifact.ArtifactID)
}

func TestCollectRelationshipsAnchor(t *testing.T) {
	collector, registry := testCampaignAndCollector(t, newFakeStore())
	campaign := registry.campaigns["camp-1"]

	evidence, err := collector.Collect(context.Background(), campaign,
		&Decision{Action: ActionSearchRelationsThenGraph}, "how do Adam and Beth know each other?")
	require.NoError(t, err)

	require.NotNil(t, evidence.FoundRelationship)
	assert.Equal(t, "uuid-knows", evidence.FoundRelationship.RelationshipID)
}

func TestCollectCombinedIsDeterministic(t *testing.T) {
	store := newFakeStore()
	// Equal scores force the UUID tiebreak.
	store.byType["note"] = []vector.Result{
		{ID: "pz", Score: 0.5, Metadata: map[string]any{"note_id": "note-z", "title": "Z"}},
		{ID: "pa", Score: 0.5, Metadata: map[string]any{"note_id": "note-a", "title": "A"}},
		{ID: "pm", Score: 0.9, Metadata: map[string]any{"note_id": "note-m", "title": "M"}},
	}
	collector, registry := testCampaignAndCollector(t, store)
	campaign := registry.campaigns["camp-1"]

	var first []Source
	for i := 0; i < 25; i++ {
		evidence, err := collector.Collect(context.Background(), campaign,
			&Decision{Action: ActionCombinedSearch}, "everything about the siege")
		require.NoError(t, err)

		sources := evidence.Sources()
		require.Equal(t, []Source{
			{NoteID: "note-m", NoteTitle: "M"},
			{NoteID: "note-a", NoteTitle: "A"},
			{NoteID: "note-z", NoteTitle: "Z"},
		}, sources)

		if first == nil {
			first = sources
		} else {
			assert.Equal(t, first, sources)
		}
	}
}

func TestCollectCombinedDegradesSingleBlock(t *testing.T) {
	store := newFakeStore()
	store.failType["artifact"] = errors.New("qdrant down")
	collector, registry := testCampaignAndCollector(t, store)
	campaign := registry.campaigns["camp-1"]

	evidence, err := collector.Collect(context.Background(), campaign,
		&Decision{Action: ActionCombinedSearch}, "everything")
	require.NoError(t, err)

	assert.Equal(t, []string{"artifacts"}, evidence.Degraded)
	assert.NotEmpty(t, evidence.Notes)
	assert.Empty(t, evidence.Artifacts)
	assert.NotEmpty(t, evidence.Relationships)
}

func TestCollectCombinedFailsWhenAllBlocksFail(t *testing.T) {
	store := newFakeStore()
	down := errors.New("store down")
	store.failType["note"] = down
	store.failType["artifact"] = down
	store.failType["relation"] = down
	collector, registry := testCampaignAndCollector(t, store)
	campaign := registry.campaigns["camp-1"]

	_, err := collector.Collect(context.Background(), campaign,
		&Decision{Action: ActionCombinedSearch}, "everything")

	var classified *Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, KindRetrievalFailure, classified.Kind)
}

func TestCollectSoleSourceFailureIsError(t *testing.T) {
	store := newFakeStore()
	store.failType["note"] = errors.New("store down")
	collector, registry := testCampaignAndCollector(t, store)
	campaign := registry.campaigns["camp-1"]

	_, err := collector.Collect(context.Background(), campaign,
		&Decision{Action: ActionSearchNotes}, "what happened?")

	var classified *Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, KindRetrievalFailure, classified.Kind)
}

package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore implements Store on chromem-go for embedded/dev
// deployments that cannot run a Qdrant server. Single-process and
// memory-bound; not for production campaigns.
type ChromemStore struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemStore(persistPath string) (*ChromemStore, error) {
	var db *chromem.DB

	if persistPath != "" {
		if err := os.MkdirAll(filepath.Dir(persistPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database at %s: %w", persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *ChromemStore) getCollection(name string) *chromem.Collection {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col
	}

	col := s.db.GetCollection(name, identityEmbed)
	if col != nil {
		s.collections[name] = col
	}
	return col
}

// identityEmbed should never run: every search arrives with a
// pre-computed vector from the embedder.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col := s.getCollection(collection)
	if col == nil {
		return nil, nil
	}

	// chromem requires topK <= collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = fmt.Sprint(v)
	}

	docs, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		metadata := make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		results = append(results, Result{
			ID:       doc.ID,
			Score:    doc.Similarity,
			Metadata: metadata,
		})
	}

	return results, nil
}

func (s *ChromemStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return s.getCollection(collection) != nil, nil
}

func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)

package vector

import (
	"fmt"

	"github.com/tavernkeep/loremaster/pkg/config"
)

// NewStore builds the configured vector store backend.
func NewStore(cfg config.VectorConfig) (Store, error) {
	switch cfg.Provider {
	case "qdrant", "":
		return NewQdrantStore(cfg.Qdrant)
	case "chromem":
		return NewChromemStore(cfg.ChromemPath)
	default:
		return nil, fmt.Errorf("unknown vector provider: %q", cfg.Provider)
	}
}

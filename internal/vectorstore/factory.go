package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

// Backend names accepted by Open.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the chromem persistence directory; empty keeps data in memory.
	Path   string
	Qdrant QdrantConfig
}

// Open creates the configured store.
func Open(ctx context.Context, opts Options, logger *logging.Logger) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendChromem:
		return NewChromemStore(opts.Path, logger)
	case BackendQdrant:
		return NewQdrantStore(ctx, opts.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

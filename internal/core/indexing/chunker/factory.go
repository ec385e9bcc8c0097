package chunker

import (
	"fmt"
	"log/slog"

	"github.com/jinford/docqa/internal/core/indexing"
)

// New は戦略名に応じた Chunker を作成します。opts は semantic 戦略でのみ使われます
func New(strategy string, cfg Config, embedder indexing.Embedder, logger *slog.Logger, opts ...SemanticOption) (Chunker, error) {
	switch strategy {
	case "", strategyRecursive:
		return NewRecursiveChunker(cfg)
	case strategySemantic:
		if embedder == nil {
			return nil, NewChunkerError("new", strategySemantic, fmt.Errorf("%w: embedder is required", ErrInvalidConfig))
		}
		return NewSemanticChunker(embedder, cfg, append([]SemanticOption{WithSemanticLogger(logger)}, opts...)...)
	default:
		return nil, NewChunkerError("new", strategy, ErrUnknownStrategy)
	}
}

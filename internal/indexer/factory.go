package indexer

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/indexer/genericrss"
	"github.com/shelfstream/shelfstream/internal/indexer/mock"
	"github.com/shelfstream/shelfstream/internal/indexer/newznab"
	"github.com/shelfstream/shelfstream/internal/indexer/torznab"
	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

// ErrUnsupportedIndexer is returned when an indexer type has no registered
// constructor.
var ErrUnsupportedIndexer = fmt.Errorf("unsupported indexer")

// Constructor builds an indexer implementation from its configuration.
type Constructor func(cfg *types.IndexerConfig, logger zerolog.Logger) (types.Indexer, error)

// Registry maps indexer types to constructors. It is a plain value owned by
// whatever composes the application, not process-wide state.
type Registry struct {
	constructors map[types.IndexerType]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[types.IndexerType]Constructor)}
}

// Register adds or replaces the constructor for an indexer type.
func (r *Registry) Register(indexerType types.IndexerType, c Constructor) {
	r.constructors[indexerType] = c
}

// New instantiates an indexer of the given type from persisted configuration.
func (r *Registry) New(indexerType types.IndexerType, cfg *types.IndexerConfig, logger zerolog.Logger) (types.Indexer, error) {
	c, ok := r.constructors[indexerType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown indexer type %s", ErrUnsupportedIndexer, indexerType)
	}
	return c(cfg, logger)
}

// Types returns the registered indexer types.
func (r *Registry) Types() []types.IndexerType {
	out := make([]types.IndexerType, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry returns a registry with every built-in indexer registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(types.IndexerTypeTorznab, func(cfg *types.IndexerConfig, logger zerolog.Logger) (types.Indexer, error) {
		return torznab.New(cfg, logger)
	})
	r.Register(types.IndexerTypeNewznab, func(cfg *types.IndexerConfig, logger zerolog.Logger) (types.Indexer, error) {
		return newznab.New(cfg, logger)
	})
	r.Register(types.IndexerTypeGenericRSS, func(cfg *types.IndexerConfig, logger zerolog.Logger) (types.Indexer, error) {
		return genericrss.New(cfg, logger)
	})
	r.Register(types.IndexerTypeMock, func(cfg *types.IndexerConfig, logger zerolog.Logger) (types.Indexer, error) {
		return mock.New(cfg), nil
	})

	return r
}

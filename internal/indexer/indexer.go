// Package indexer provides search across book indexers behind a common
// interface. Concrete implementations live in subpackages per API dialect;
// this package owns the interface, the managed wrapper, and the registry
// that builds indexers from configuration.
package indexer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/indexer/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

// Indexer aliases the shared interface so implementations and callers name
// the same contract.
type Indexer = types.Indexer

// ManagedIndexer wraps an implementation with the enabled flag and shared
// cross-cutting behavior so callers never branch on state themselves.
type ManagedIndexer struct {
	impl    Indexer
	enabled bool
	logger  zerolog.Logger
}

// NewManaged wraps an indexer implementation.
func NewManaged(impl Indexer, enabled bool, logger zerolog.Logger) *ManagedIndexer {
	return &ManagedIndexer{
		impl:    impl,
		enabled: enabled,
		logger:  logger.With().Str("indexer", impl.Name()).Logger(),
	}
}

func (m *ManagedIndexer) Name() string { return m.impl.Name() }

// Enabled reports whether searches will reach the network.
func (m *ManagedIndexer) Enabled() bool { return m.enabled }

// Search runs a query against the indexer. A disabled indexer contributes an
// empty result set without touching the network, so aggregated searches
// simply skip it.
func (m *ManagedIndexer) Search(ctx context.Context, criteria *types.SearchCriteria) ([]types.ReleaseInfo, error) {
	if !m.enabled {
		m.logger.Debug().Msg("indexer disabled, skipping search")
		return []types.ReleaseInfo{}, nil
	}
	releases, err := m.impl.Search(ctx, criteria)
	if err != nil {
		return nil, provider.Wrap(m.impl.Name(), err)
	}
	m.logger.Debug().Int("results", len(releases)).Str("term", criteria.Term()).Msg("search completed")
	return releases, nil
}

// Test checks connectivity and credentials even when the indexer is
// disabled, since that is how an operator verifies config before enabling.
func (m *ManagedIndexer) Test(ctx context.Context) error {
	if err := m.impl.Test(ctx); err != nil {
		return provider.Wrap(m.impl.Name(), err)
	}
	return nil
}

func (m *ManagedIndexer) Capabilities() types.Capabilities {
	return m.impl.Capabilities()
}

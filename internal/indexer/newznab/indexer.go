// Package newznab implements the Newznab indexer dialect. Newznab is the
// usenet ancestor of Torznab and shares its query protocol, so this is a
// thin wrapper that fixes the release protocol.
package newznab

import (
	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/indexer/torznab"
	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

// New creates a Newznab indexer client backed by the shared query
// implementation.
func New(cfg *types.IndexerConfig, logger zerolog.Logger) (*torznab.Client, error) {
	return torznab.NewDialect(cfg, types.ProtocolUsenet, logger)
}

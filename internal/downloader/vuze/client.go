// Package vuze implements a Vuze client. Vuze speaks the Transmission RPC
// dialect through its xmwebui plugin, so this is a thin wrapper that fixes
// the RPC path and client type.
package vuze

import (
	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/transmission"
	"github.com/shelfstream/shelfstream/internal/downloader/types"
)

// New creates a Vuze client backed by the Transmission RPC implementation.
func New(cfg *types.ClientConfig, logger zerolog.Logger) *transmission.Client {
	return transmission.NewDialect(cfg, "/transmission/rpc", types.ClientTypeVuze, logger)
}

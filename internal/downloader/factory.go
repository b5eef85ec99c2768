package downloader

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/aria2"
	"github.com/shelfstream/shelfstream/internal/downloader/blackhole"
	"github.com/shelfstream/shelfstream/internal/downloader/deluge"
	"github.com/shelfstream/shelfstream/internal/downloader/downloadstation"
	"github.com/shelfstream/shelfstream/internal/downloader/freebox"
	"github.com/shelfstream/shelfstream/internal/downloader/mock"
	"github.com/shelfstream/shelfstream/internal/downloader/nzbvortex"
	"github.com/shelfstream/shelfstream/internal/downloader/qbittorrent"
	"github.com/shelfstream/shelfstream/internal/downloader/rtorrent"
	"github.com/shelfstream/shelfstream/internal/downloader/transmission"
	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/downloader/utorrent"
	"github.com/shelfstream/shelfstream/internal/downloader/vuze"
)

// ErrUnsupportedClient is returned when a client type has no registered
// constructor.
var ErrUnsupportedClient = fmt.Errorf("unsupported download client")

// Constructor builds a protocol proxy from its configuration.
type Constructor func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error)

// Registry maps client types to constructors. It is a plain value owned by
// whatever composes the application, not process-wide state.
type Registry struct {
	constructors map[types.ClientType]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[types.ClientType]Constructor)}
}

// Register adds or replaces the constructor for a client type.
func (r *Registry) Register(clientType types.ClientType, c Constructor) {
	r.constructors[clientType] = c
}

// New instantiates a client of the given type from persisted configuration.
func (r *Registry) New(clientType types.ClientType, cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
	c, ok := r.constructors[clientType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown client type %s", ErrUnsupportedClient, clientType)
	}
	return c(cfg, logger)
}

// Types returns the registered client types.
func (r *Registry) Types() []types.ClientType {
	out := make([]types.ClientType, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry returns a registry with every built-in client registered.
// The fetcher is threaded to drop-folder clients that need to resolve URLs
// into file content themselves.
func DefaultRegistry(fetcher Fetcher) *Registry {
	r := NewRegistry()

	r.Register(types.ClientTypeQBittorrent, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return qbittorrent.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeTransmission, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return transmission.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeVuze, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return vuze.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeDeluge, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return deluge.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeRTorrent, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return rtorrent.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeUTorrent, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return utorrent.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeAria2, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return aria2.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeFreebox, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return freebox.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeDownloadStation, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return downloadstation.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeNZBVortex, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return nzbvortex.New(cfg, logger), nil
	})
	r.Register(types.ClientTypeTorrentBlackhole, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return blackhole.NewTorrent(cfg, fetcher, logger)
	})
	r.Register(types.ClientTypeUsenetBlackhole, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return blackhole.NewUsenet(cfg, fetcher, logger)
	})
	r.Register(types.ClientTypeMock, func(cfg *types.ClientConfig, logger zerolog.Logger) (types.Client, error) {
		return mock.New(cfg), nil
	})

	return r
}

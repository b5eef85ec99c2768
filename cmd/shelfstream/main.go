package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelfstream/shelfstream/internal/config"
	"github.com/shelfstream/shelfstream/internal/downloader"
	dltypes "github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/fetcher"
	"github.com/shelfstream/shelfstream/internal/indexer"
	idxtypes "github.com/shelfstream/shelfstream/internal/indexer/types"
	"github.com/shelfstream/shelfstream/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		search     = flag.String("search", "", "run a one-shot search and exit")
		testOnly   = flag.Bool("test", false, "test configured providers and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Path:   cfg.Logging.Path,
	})
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *search, *testOnly); err != nil {
		log.Error().Err(err).Msg("shelfstream exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, search string, testOnly bool) error {
	clients, err := buildClients(cfg, log)
	if err != nil {
		return err
	}
	indexers, err := buildIndexers(cfg, log)
	if err != nil {
		return err
	}

	log.Info().
		Int("downloadClients", len(clients)).
		Int("indexers", len(indexers)).
		Msg("providers configured")

	testProviders(ctx, clients, indexers, log)
	if testOnly {
		return nil
	}
	if search != "" {
		return runSearch(ctx, indexers, search, log)
	}
	return nil
}

func buildClients(cfg *config.Config, log *logger.Logger) ([]*downloader.ManagedClient, error) {
	fetch := fetcher.NewHTTP(&http.Client{Timeout: 30 * time.Second}, log.Logger)
	registry := downloader.DefaultRegistry(fetch)
	strategies := downloader.NewStrategyRegistry()

	var clients []*downloader.ManagedClient
	for i := range cfg.Clients {
		entry := &cfg.Clients[i]
		clientCfg := entry.ClientConfig()
		impl, err := registry.New(dltypes.ClientType(entry.Type), clientCfg, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("download client %q: %w", entry.Name, err)
		}
		managed := downloader.NewManagedClient(impl, clientCfg, strategies, fetch, log.Logger)
		managed.SetEnabled(entry.Enabled)
		clients = append(clients, managed)
	}
	return clients, nil
}

func buildIndexers(cfg *config.Config, log *logger.Logger) ([]*indexer.ManagedIndexer, error) {
	registry := indexer.DefaultRegistry()

	var indexers []*indexer.ManagedIndexer
	for i := range cfg.Indexers {
		entry := &cfg.Indexers[i]
		impl, err := registry.New(idxtypes.IndexerType(entry.Type), entry.IndexerConfig(), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("indexer %q: %w", entry.Name, err)
		}
		indexers = append(indexers, indexer.NewManaged(impl, entry.Enabled, log.Logger))
	}
	return indexers, nil
}

// testProviders checks every configured provider and logs the outcome.
// Failures are reported but never abort startup, matching what an operator
// wants while wiring up a new host.
func testProviders(ctx context.Context, clients []*downloader.ManagedClient, indexers []*indexer.ManagedIndexer, log *logger.Logger) {
	for _, c := range clients {
		healthy, err := c.TestConnection(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("client", c.Name()).Msg("download client test failed")
		case !healthy:
			log.Warn().Str("client", c.Name()).Msg("download client unreachable")
		default:
			log.Info().Str("client", c.Name()).Msg("download client ok")
		}
	}
	for _, idx := range indexers {
		if err := idx.Test(ctx); err != nil {
			log.Warn().Err(err).Str("indexer", idx.Name()).Msg("indexer test failed")
			continue
		}
		log.Info().Str("indexer", idx.Name()).Msg("indexer ok")
	}
}

// runSearch queries every enabled indexer and prints the merged results.
func runSearch(ctx context.Context, indexers []*indexer.ManagedIndexer, term string, log *logger.Logger) error {
	criteria := &idxtypes.SearchCriteria{Query: term}

	var merged []idxtypes.ReleaseInfo
	for _, idx := range indexers {
		releases, err := idx.Search(ctx, criteria)
		if err != nil {
			log.Warn().Err(err).Str("indexer", idx.Name()).Msg("search failed")
			continue
		}
		merged = append(merged, releases...)
	}

	for _, r := range merged {
		fmt.Printf("%-12s %9d  %-6s  %s\n", r.IndexerName, r.Size, r.Quality, r.Title)
	}
	log.Info().Int("results", len(merged)).Str("term", term).Msg("search complete")
	return nil
}

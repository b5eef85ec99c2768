package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logging:
  level: debug
  format: json

download_clients:
  - type: qbittorrent
    name: seedbox
    enabled: true
    host: 10.0.0.5
    port: 8080
    username: admin
    password: adminadmin
    category: books
  - type: torrent_blackhole
    name: drop
    enabled: false
    download_dir: /watch/torrents

indexers:
  - type: torznab
    name: bookindex
    enabled: true
    base_url: http://10.0.0.6:9117
    api_key: secret
    categories: [7000, 7020]
  - type: genericrss
    name: freebooks
    enabled: true
    feed_url: http://feeds.example/books.xml
    feed_cache_ttl_seconds: 120
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ParsesFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.Len(t, cfg.Clients, 2)
	client := cfg.Clients[0].ClientConfig()
	assert.Equal(t, "seedbox", client.Name)
	assert.Equal(t, "10.0.0.5", client.Host)
	assert.Equal(t, 8080, client.Port)
	assert.Equal(t, "books", client.Category)
	assert.False(t, cfg.Clients[1].Enabled)

	require.Len(t, cfg.Indexers, 2)
	idx := cfg.Indexers[0].IndexerConfig()
	assert.Equal(t, "bookindex", idx.Name)
	assert.Equal(t, []int{7000, 7020}, idx.Categories)
	rss := cfg.Indexers[1].IndexerConfig()
	assert.Equal(t, 2*time.Minute, rss.FeedCacheTTL)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Empty(t, cfg.Clients)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SHELFSTREAM_LOGGING_LEVEL", "trace")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Logging.Level)
}

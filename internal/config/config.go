// Package config loads application configuration from a YAML file and
// environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	dltypes "github.com/shelfstream/shelfstream/internal/downloader/types"
	idxtypes "github.com/shelfstream/shelfstream/internal/indexer/types"
)

// Config holds all application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Clients  []ClientEntry  `mapstructure:"download_clients"`
	Indexers []IndexerEntry `mapstructure:"indexers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// ClientEntry is one configured download client.
type ClientEntry struct {
	Type    string `mapstructure:"type"`
	Name    string `mapstructure:"name"`
	Enabled bool   `mapstructure:"enabled"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	UseSSL   bool   `mapstructure:"use_ssl"`
	URLBase  string `mapstructure:"url_base"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	APIKey   string `mapstructure:"api_key"`
	AppToken string `mapstructure:"app_token"`

	Category       string `mapstructure:"category"`
	DownloadDir    string `mapstructure:"download_dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ClientConfig converts the entry into the downloader configuration type.
func (e *ClientEntry) ClientConfig() *dltypes.ClientConfig {
	return &dltypes.ClientConfig{
		Name:        e.Name,
		Host:        e.Host,
		Port:        e.Port,
		UseSSL:      e.UseSSL,
		URLBase:     e.URLBase,
		Username:    e.Username,
		Password:    e.Password,
		APIKey:      e.APIKey,
		AppToken:    e.AppToken,
		Category:    e.Category,
		DownloadDir: e.DownloadDir,
		Timeout:     time.Duration(e.TimeoutSeconds) * time.Second,
	}
}

// IndexerEntry is one configured indexer.
type IndexerEntry struct {
	Type    string `mapstructure:"type"`
	Name    string `mapstructure:"name"`
	Enabled bool   `mapstructure:"enabled"`

	BaseURL string `mapstructure:"base_url"`
	APIPath string `mapstructure:"api_path"`
	APIKey  string `mapstructure:"api_key"`
	FeedURL string `mapstructure:"feed_url"`
	Cookie  string `mapstructure:"cookie"`

	Categories          []int `mapstructure:"categories"`
	TimeoutSeconds      int   `mapstructure:"timeout_seconds"`
	FeedCacheTTLSeconds int   `mapstructure:"feed_cache_ttl_seconds"`
}

// IndexerConfig converts the entry into the indexer configuration type.
func (e *IndexerEntry) IndexerConfig() *idxtypes.IndexerConfig {
	return &idxtypes.IndexerConfig{
		Name:         e.Name,
		BaseURL:      e.BaseURL,
		APIPath:      e.APIPath,
		APIKey:       e.APIKey,
		FeedURL:      e.FeedURL,
		Cookie:       e.Cookie,
		Categories:   e.Categories,
		Timeout:      time.Duration(e.TimeoutSeconds) * time.Second,
		FeedCacheTTL: time.Duration(e.FeedCacheTTLSeconds) * time.Second,
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.shelfstream")
	}

	v.SetEnvPrefix("SHELFSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
}

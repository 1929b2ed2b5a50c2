package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/store"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "CONTENTGRAPH_"

var validate = validator.New()

// Config represents the complete configuration for contentgraph
type Config struct {
	// Repository
	RepoPath     string   `yaml:"repo_path" json:"repo_path" validate:"required"`
	Marketplaces []string `yaml:"marketplaces" json:"marketplaces" validate:"dive,oneof=xsoar marketplacev2 xpanse"`

	// Performance
	Concurrency   int `yaml:"concurrency" json:"concurrency" validate:"min=1"`
	BatchMax      int `yaml:"batch_max" json:"batch_max" validate:"min=1"`
	BatchFlushSec int `yaml:"batch_flush_sec" json:"batch_flush_sec" validate:"min=1"`

	Store StoreConfig `yaml:"store" json:"store"`
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Output
	ExportDir       string `yaml:"export_dir" json:"export_dir"`
	ReasonsMaxDepth int    `yaml:"reasons_max_depth" json:"reasons_max_depth" validate:"min=1,max=50"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`
	LogLevel     string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	Progress     bool   `yaml:"progress" json:"progress"`
}

type StoreConfig struct {
	Driver             string `yaml:"driver" json:"driver" validate:"oneof=sqlite3 pgx"`
	DSN                string `yaml:"dsn" json:"dsn" validate:"required"`
	RetryMaxElapsedSec int    `yaml:"retry_max_elapsed_sec" json:"retry_max_elapsed_sec" validate:"min=0"`
}

// Store converts to the store package configuration.
func (s StoreConfig) Store() store.Config {
	return store.Config{
		Driver:          s.Driver,
		DSN:             s.DSN,
		RetryMaxElapsed: time.Duration(s.RetryMaxElapsedSec) * time.Second,
	}
}

// CacheConfig sizes the parse cache. An empty RedisAddr keeps it in memory.
type CacheConfig struct {
	Size      int    `yaml:"size" json:"size" validate:"min=0"`
	TTLSec    int    `yaml:"ttl_sec" json:"ttl_sec" validate:"min=0"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
}

func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.RepoPath == "" {
		c.RepoPath = "."
	}
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.BatchMax == 0 {
		c.BatchMax = 500
	}
	if c.BatchFlushSec == 0 {
		c.BatchFlushSec = 2
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite3" {
		c.Store.DSN = "contentgraph.db"
	}
	if c.Store.RetryMaxElapsedSec == 0 {
		c.Store.RetryMaxElapsedSec = 30
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = 4096
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 3600
	}
	if c.ExportDir == "" {
		c.ExportDir = "graph_export"
	}
	if c.ReasonsMaxDepth == 0 {
		c.ReasonsMaxDepth = 10
	}
	if c.OTELService == "" {
		c.OTELService = "contentgraph"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks struct tags, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Store.Driver == "pgx" && !strings.Contains(c.Store.DSN, "://") && !strings.Contains(c.Store.DSN, "=") {
		return fmt.Errorf("store.dsn %q is not a postgres connection string", c.Store.DSN)
	}
	return nil
}

// MarketplaceFilter parses Marketplaces. An empty list means every
// marketplace.
func (c *Config) MarketplaceFilter() ([]contenttype.Marketplace, error) {
	var out []contenttype.Marketplace
	for _, s := range c.Marketplaces {
		m, err := contenttype.ParseMarketplace(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["repo_path"].(string); ok && v != "" {
		c.RepoPath = v
	}
	if v, ok := flags["marketplaces"].(string); ok && v != "" {
		c.Marketplaces = splitList(v)
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := flags["batch_max"].(int); ok && v > 0 {
		c.BatchMax = v
	}
	if v, ok := flags["batch_flush_sec"].(int); ok && v > 0 {
		c.BatchFlushSec = v
	}
	if v, ok := flags["store_driver"].(string); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := flags["store_dsn"].(string); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := flags["export_dir"].(string); ok && v != "" {
		c.ExportDir = v
	}
	if v, ok := flags["redis_addr"].(string); ok && v != "" {
		c.Cache.RedisAddr = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
	if v, ok := flags["log_level"].(string); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := flags["progress"].(bool); ok {
		c.Progress = v
	}
}

// LoadFromEnv loads CONTENTGRAPH_* variables, reading a .env file in the
// working directory first when one exists. Real environment variables win
// over .env entries.
func (c *Config) LoadFromEnv() {
	_ = godotenv.Load()

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(EnvPrefix + key))); err == nil && v > 0 {
			*dst = v
		}
	}

	str("REPO_PATH", &c.RepoPath)
	if v := os.Getenv(EnvPrefix + "MARKETPLACES"); v != "" {
		c.Marketplaces = splitList(v)
	}
	num("CONCURRENCY", &c.Concurrency)
	num("BATCH_MAX", &c.BatchMax)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("REDIS_ADDR", &c.Cache.RedisAddr)
	num("CACHE_TTL_SEC", &c.Cache.TTLSec)
	str("EXPORT_DIR", &c.ExportDir)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("OTEL_ENDPOINT", &c.OTELEndpoint)
	str("LOG_LEVEL", &c.LogLevel)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

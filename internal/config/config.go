package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the splitsearch node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metastore MetastoreConfig `yaml:"metastore"`
	Storage   StorageConfig   `yaml:"storage"`
	Searcher  SearcherConfig  `yaml:"searcher"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID       string `yaml:"id"`
	GRPCPort int    `yaml:"grpc_port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"` // 0 keeps streams unbounded
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// MetastoreConfig selects and configures the metastore backend.
type MetastoreConfig struct {
	Driver           string   `yaml:"driver"` // redis, file (default: file)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Path             string   `yaml:"path"` // file driver only
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds split storage settings.
type StorageConfig struct {
	Root string `yaml:"root"` // base directory of file:// index URIs
}

// SearcherConfig bounds the work a node does on behalf of a query.
type SearcherConfig struct {
	MaxConcurrentSplitSearches int `yaml:"max_num_concurrent_split_searches"`
	MaxConcurrentSplitStreams  int `yaml:"max_num_concurrent_split_streams"`
	FetchConcurrency           int `yaml:"fetch_concurrency"`
	ListTermsConcurrency       int `yaml:"list_terms_concurrency"`
	LeafTimeoutSec             int `yaml:"leaf_timeout_sec"`
	FooterCacheTTLSec          int `yaml:"footer_cache_ttl_sec"` // 0 disables the cache
	AggregationBucketLimit     int `yaml:"aggregation_bucket_limit"`
}

// ClusterConfig lists the searcher nodes, this one included.
type ClusterConfig struct {
	Nodes []NodeAddr `yaml:"nodes"`
}

// NodeAddr is a peer node.
type NodeAddr struct {
	ID       string `yaml:"id"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Metastore drivers.
const (
	MetastoreRedis = "redis"
	MetastoreFile  = "file"
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = "node-1"
	}
	if c.Node.GRPCPort <= 0 {
		c.Node.GRPCPort = 7281
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Metastore.Driver == "" {
		c.Metastore.Driver = MetastoreFile
	}
	if c.Metastore.Driver == MetastoreFile && c.Metastore.Path == "" {
		c.Metastore.Path = filepath.Join("data", "metastore.yaml")
	}
	if c.Metastore.ReadinessTimeout <= 0 {
		c.Metastore.ReadinessTimeout = 10
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data"
	}
	if c.Searcher.MaxConcurrentSplitSearches <= 0 {
		c.Searcher.MaxConcurrentSplitSearches = 100
	}
	if c.Searcher.MaxConcurrentSplitStreams <= 0 {
		c.Searcher.MaxConcurrentSplitStreams = 10
	}
	if c.Searcher.FetchConcurrency <= 0 {
		c.Searcher.FetchConcurrency = 10
	}
	if c.Searcher.ListTermsConcurrency <= 0 {
		c.Searcher.ListTermsConcurrency = 10
	}
	if c.Searcher.LeafTimeoutSec <= 0 {
		c.Searcher.LeafTimeoutSec = 30
	}
	if c.Searcher.AggregationBucketLimit <= 0 {
		c.Searcher.AggregationBucketLimit = 65_000
	}
	if len(c.Cluster.Nodes) == 0 {
		c.Cluster.Nodes = []NodeAddr{{ID: c.Node.ID}}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Node.GRPCPort > 65535 {
		return fmt.Errorf("node.grpc_port must be between 1 and 65535, got %d", c.Node.GRPCPort)
	}
	switch c.Metastore.Driver {
	case MetastoreRedis:
		if len(c.Metastore.Addrs) == 0 {
			return fmt.Errorf("metastore.addrs is required for the redis driver")
		}
	case MetastoreFile:
	default:
		return fmt.Errorf("metastore.driver must be %q or %q, got %q",
			MetastoreRedis, MetastoreFile, c.Metastore.Driver)
	}
	if c.Searcher.FooterCacheTTLSec > 0 && c.Metastore.Driver != MetastoreRedis {
		return fmt.Errorf("searcher.footer_cache_ttl_sec requires the redis metastore")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return c.validateCluster()
}

func (c *Config) validateCluster() error {
	seen := make(map[string]struct{}, len(c.Cluster.Nodes))
	self := false
	for i, n := range c.Cluster.Nodes {
		if n.ID == "" {
			return fmt.Errorf("cluster.nodes[%d].id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("cluster.nodes: duplicate id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.ID == c.Node.ID {
			self = true
			continue
		}
		if n.GRPCAddr == "" {
			return fmt.Errorf("cluster.nodes[%d].grpc_addr is required for peer %q", i, n.ID)
		}
	}
	if !self {
		return fmt.Errorf("cluster.nodes must include this node %q", c.Node.ID)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/peerquery/internal/domain/message"
)

// Bus drivers.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config holds the peerquery node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	HTTP    HTTPConfig    `yaml:"http"`
	Bus     BusConfig     `yaml:"bus"`
	Query   QueryConfig   `yaml:"query"`
	Dedup   DedupConfig   `yaml:"dedup"`
	Auth    AuthConfig    `yaml:"auth"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// NodeConfig identifies this node on the bus.
type NodeConfig struct {
	ID              string  `yaml:"id"`               // default: hostname-<short uuid>
	BroadcastSuffix *string `yaml:"broadcast_suffix"` // appended to relayed query text
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys    []string         `yaml:"api_keys"`
	ClientCert ClientCertConfig `yaml:"client_cert"`
}

// ClientCertConfig restricts callers to verified client certificates.
type ClientCertConfig struct {
	Enabled         bool     `yaml:"enabled"`
	AllowedSubjects []string `yaml:"allowed_subjects"` // empty = any verified certificate
}

// TLSConfig enables HTTPS. Both cert_file and key_file must be set to enable it.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
}

// Enabled reports whether the server should listen with TLS.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	Driver           string   `yaml:"driver"` // redis, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	QueryTopic       string   `yaml:"query_topic"`
	ResultTopic      string   `yaml:"result_topic"`
	StreamMaxLen     int64    `yaml:"stream_max_len"`
	BlockMS          int      `yaml:"block_ms"`
}

// QueryConfig bounds the collection window of a query.
type QueryConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

// DedupConfig sizes the recently-seen cache.
type DedupConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// Load reads configuration from a YAML file by environment name (local, docker, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (Config, error) {
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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
		c.Node.ID = DefaultNodeID()
	}
	if c.Node.BroadcastSuffix == nil {
		suffix := " (broadcast)"
		c.Node.BroadcastSuffix = &suffix
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 40
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = DriverRedis
	}
	if c.Bus.ReadinessTimeout <= 0 {
		c.Bus.ReadinessTimeout = 10
	}
	if c.Bus.QueryTopic == "" {
		c.Bus.QueryTopic = "peerquery:query"
	}
	if c.Bus.ResultTopic == "" {
		c.Bus.ResultTopic = "peerquery:result"
	}
	if c.Bus.StreamMaxLen <= 0 {
		c.Bus.StreamMaxLen = 10000
	}
	if c.Bus.BlockMS <= 0 {
		c.Bus.BlockMS = 250
	}
	if c.Query.DefaultTimeout <= 0 {
		c.Query.DefaultTimeout = 2 * time.Second
	}
	if c.Query.MaxTimeout <= 0 {
		c.Query.MaxTimeout = 30 * time.Second
	}
	if c.Dedup.Capacity <= 0 {
		c.Dedup.Capacity = 100
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 10 * time.Minute
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !message.ValidNodeID(c.Node.ID) {
		return fmt.Errorf("node.id %q must match [a-zA-Z0-9_.:-]{1,255}", c.Node.ID)
	}
	switch c.Bus.Driver {
	case DriverRedis:
		if len(c.Bus.Addrs) == 0 {
			return fmt.Errorf("bus.addrs is required for driver %q", DriverRedis)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("bus.driver must be %q or %q, got %q", DriverRedis, DriverMemory, c.Bus.Driver)
	}
	if c.Bus.QueryTopic == c.Bus.ResultTopic {
		return fmt.Errorf("bus.query_topic and bus.result_topic must differ, both are %q", c.Bus.QueryTopic)
	}
	if c.Query.DefaultTimeout > c.Query.MaxTimeout {
		return fmt.Errorf("query.default_timeout %s exceeds query.max_timeout %s",
			c.Query.DefaultTimeout, c.Query.MaxTimeout)
	}
	if write := time.Duration(c.HTTP.WriteTimeoutSec) * time.Second; write <= c.Query.MaxTimeout {
		return fmt.Errorf("http.write_timeout_sec %s must exceed query.max_timeout %s", write, c.Query.MaxTimeout)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	if c.Auth.ClientCert.Enabled && c.TLS.ClientCAFile == "" {
		return fmt.Errorf("auth.client_cert.enabled requires tls.client_ca_file")
	}
	if c.TLS.ClientCAFile != "" && !c.TLS.Enabled() {
		return fmt.Errorf("tls.client_ca_file requires tls.cert_file and tls.key_file")
	}
	return nil
}

// DefaultNodeID derives a node id from the hostname plus a random suffix.
func DefaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || !message.ValidNodeID(host) {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
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
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

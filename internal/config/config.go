package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Distro  DistroConfig  `mapstructure:"distro"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address for server (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // HTTP server port, serves both peer and local APIs
	// AdvertiseHost is the host peers use to reach this node. When empty or a
	// wildcard, the outbound IP is detected at startup.
	AdvertiseHost string        `mapstructure:"advertise_host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	BodyLimit     int           `mapstructure:"body_limit"` // bytes
	// ReadBufferSize bounds request line plus headers, and so the keys= query
	// of a peer pull
	ReadBufferSize int `mapstructure:"read_buffer_size"`
}

// ClusterConfig describes how members are discovered
type ClusterConfig struct {
	Standalone bool     `mapstructure:"standalone"` // single node, no replication
	Membership string   `mapstructure:"membership"` // static, etcd
	Members    []string `mapstructure:"members"`    // host:port list for static membership (self included)

	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"` // static membership probe period, 0 disables
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`

	EtcdPrefix string `mapstructure:"etcd_prefix"` // key prefix for etcd membership
	LeaseTTL   int64  `mapstructure:"lease_ttl"`   // seconds
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// DistroConfig holds replication protocol tunables
type DistroConfig struct {
	Enabled bool `mapstructure:"enabled"` // false makes every node responsible for every key

	// Write path
	SyncDelay          time.Duration `mapstructure:"sync_delay"`            // delay before a batch is pushed
	BatchSyncKeyCount  int           `mapstructure:"batch_sync_key_count"`  // flush threshold per worker
	TaskDispatchPeriod time.Duration `mapstructure:"task_dispatch_period"` // flush period per worker
	TaskQueueSize      int           `mapstructure:"task_queue_size"`       // per-worker queue capacity
	Workers            int           `mapstructure:"workers"`               // 0 means runtime.NumCPU()

	// Retry
	RetryPolicy         string        `mapstructure:"retry_policy"` // time-weighted, exponential, fixed
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxCoefficient int           `mapstructure:"retry_max_coefficient"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	MaxRetries          int           `mapstructure:"max_retries"` // 0 means unlimited

	// Anti-entropy
	AntiEntropyInterval     time.Duration `mapstructure:"anti_entropy_interval"`
	AntiEntropyInitialDelay time.Duration `mapstructure:"anti_entropy_initial_delay"`

	// Bootstrap
	BootstrapPollInterval time.Duration `mapstructure:"bootstrap_poll_interval"`
	BootstrapPasses       int           `mapstructure:"bootstrap_passes"`
	BootstrapRetryDelay   time.Duration `mapstructure:"bootstrap_retry_delay"`

	// Transport
	HTTPTimeout         time.Duration `mapstructure:"http_timeout"`
	MaxConcurrentPushes int           `mapstructure:"max_concurrent_pushes"`
	FetchBatchKeys      int           `mapstructure:"fetch_batch_keys"` // keys per anti-entropy pull
	Codec               string        `mapstructure:"codec"`       // json, msgpack
	Compression         string        `mapstructure:"compression"` // gzip, snappy, identity
	ClientVersion       string        `mapstructure:"client_version"`

	KeyAnalyzers []string `mapstructure:"key_analyzers"` // applied in order, first interested wins
	Stores       []string `mapstructure:"stores"`        // replicated stores to create
}

// NotifyConfig represents change notification queue configuration
type NotifyConfig struct {
	Type          string `mapstructure:"type"`           // none (default), nats, redis, kafka, memory
	URL           string `mapstructure:"url"`            // Queue server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username      string `mapstructure:"username"`       // Optional authentication
	Password      string `mapstructure:"password"`       // Optional authentication
	SubjectPrefix string `mapstructure:"subject_prefix"` // events go to <prefix>.<store>

	// Redis-specific options
	RedisDB     int    `mapstructure:"redis_db"`     // Redis database number (default: 0)
	RedisStream string `mapstructure:"redis_stream"` // Redis stream prefix (default: "distro")

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"` // Kafka broker addresses
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication on the local API
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
	// Identity is a shared secret peers present on /distro requests. Empty
	// disables peer authentication.
	Identity string `mapstructure:"identity"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster config: %w", err)
	}

	if c.Cluster.Membership == "etcd" && !c.Cluster.Standalone {
		if err := c.Etcd.Validate(); err != nil {
			return fmt.Errorf("etcd config: %w", err)
		}
	}

	if err := c.Distro.Validate(); err != nil {
		return fmt.Errorf("distro config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	if c.ReadBufferSize < 4096 {
		return fmt.Errorf("server.read_buffer_size must be at least 4096")
	}
	return nil
}

// Validate validates cluster configuration
func (c *ClusterConfig) Validate() error {
	if c.Standalone {
		return nil
	}

	switch c.Membership {
	case "static":
		if len(c.Members) == 0 {
			return fmt.Errorf("cluster.members is required for static membership")
		}
	case "etcd":
		if c.LeaseTTL <= 0 {
			return fmt.Errorf("cluster.lease_ttl must be positive")
		}
	default:
		return fmt.Errorf("cluster.membership must be 'static' or 'etcd'")
	}

	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	return nil
}

// Validate validates distro configuration
func (c *DistroConfig) Validate() error {
	if c.BatchSyncKeyCount < 1 {
		return fmt.Errorf("distro.batch_sync_key_count must be at least 1")
	}

	if c.TaskDispatchPeriod <= 0 {
		return fmt.Errorf("distro.task_dispatch_period must be positive")
	}

	if c.TaskQueueSize < 1 {
		return fmt.Errorf("distro.task_queue_size must be at least 1")
	}

	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("distro.retry_base_delay must be positive")
	}

	if c.AntiEntropyInterval <= 0 {
		return fmt.Errorf("distro.anti_entropy_interval must be positive")
	}

	if c.BootstrapPasses < 1 {
		return fmt.Errorf("distro.bootstrap_passes must be at least 1")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("distro.http_timeout must be positive")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("distro.max_retries cannot be negative")
	}

	if c.FetchBatchKeys < 1 {
		return fmt.Errorf("distro.fetch_batch_keys must be at least 1")
	}

	if len(c.Stores) == 0 {
		return fmt.Errorf("distro.stores must list at least one store")
	}

	validCodecs := map[string]bool{"json": true, "msgpack": true}
	if !validCodecs[c.Codec] {
		return fmt.Errorf("distro.codec must be 'json' or 'msgpack'")
	}

	validCompression := map[string]bool{"gzip": true, "snappy": true, "identity": true}
	if !validCompression[c.Compression] {
		return fmt.Errorf("distro.compression must be one of: gzip, snappy, identity")
	}

	return nil
}

// Validate validates notify configuration
func (c *NotifyConfig) Validate() error {
	switch c.Type {
	case "", "none", "memory":
		return nil
	case "nats", "redis":
		if c.URL == "" {
			return fmt.Errorf("notify.url is required for %s", c.Type)
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 && c.URL == "" {
			return fmt.Errorf("notify.kafka_brokers is required for kafka")
		}
	default:
		return fmt.Errorf("notify.type must be one of: none, memory, nats, redis, kafka")
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

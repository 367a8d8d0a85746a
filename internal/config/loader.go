package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return parseConfig(v)
}

// newViper builds a viper instance with defaults, env overrides and the
// config file (if one is found) already read
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")           // Current directory
		v.AddConfigPath("./configs")   // Project configs directory
		v.AddConfigPath("./config")    // Alternative config directory
		v.AddConfigPath("/etc/distro") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides, e.g. DISTRO_DISTRO_BATCH_SYNC_KEY_COUNT
	v.SetEnvPrefix("DISTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// Watch reloads the config file whenever it changes and hands every valid
// result to onChange. Invalid edits are reported through onError and the
// previous configuration stays in effect.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := parseConfig(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)
	v.SetDefault("server.read_buffer_size", d.Server.ReadBufferSize)

	// Cluster defaults
	v.SetDefault("cluster.standalone", d.Cluster.Standalone)
	v.SetDefault("cluster.membership", d.Cluster.Membership)
	v.SetDefault("cluster.members", d.Cluster.Members)
	v.SetDefault("cluster.health_check_interval", d.Cluster.HealthCheckInterval)
	v.SetDefault("cluster.health_check_timeout", d.Cluster.HealthCheckTimeout)
	v.SetDefault("cluster.etcd_prefix", d.Cluster.EtcdPrefix)
	v.SetDefault("cluster.lease_ttl", d.Cluster.LeaseTTL)

	// Etcd defaults
	v.SetDefault("etcd.endpoints", d.Etcd.Endpoints)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout)

	// Distro defaults
	v.SetDefault("distro.enabled", d.Distro.Enabled)
	v.SetDefault("distro.sync_delay", d.Distro.SyncDelay)
	v.SetDefault("distro.batch_sync_key_count", d.Distro.BatchSyncKeyCount)
	v.SetDefault("distro.task_dispatch_period", d.Distro.TaskDispatchPeriod)
	v.SetDefault("distro.task_queue_size", d.Distro.TaskQueueSize)
	v.SetDefault("distro.workers", d.Distro.Workers)
	v.SetDefault("distro.retry_policy", d.Distro.RetryPolicy)
	v.SetDefault("distro.retry_base_delay", d.Distro.RetryBaseDelay)
	v.SetDefault("distro.retry_max_coefficient", d.Distro.RetryMaxCoefficient)
	v.SetDefault("distro.retry_max_delay", d.Distro.RetryMaxDelay)
	v.SetDefault("distro.max_retries", d.Distro.MaxRetries)
	v.SetDefault("distro.anti_entropy_interval", d.Distro.AntiEntropyInterval)
	v.SetDefault("distro.anti_entropy_initial_delay", d.Distro.AntiEntropyInitialDelay)
	v.SetDefault("distro.bootstrap_poll_interval", d.Distro.BootstrapPollInterval)
	v.SetDefault("distro.bootstrap_passes", d.Distro.BootstrapPasses)
	v.SetDefault("distro.bootstrap_retry_delay", d.Distro.BootstrapRetryDelay)
	v.SetDefault("distro.http_timeout", d.Distro.HTTPTimeout)
	v.SetDefault("distro.max_concurrent_pushes", d.Distro.MaxConcurrentPushes)
	v.SetDefault("distro.fetch_batch_keys", d.Distro.FetchBatchKeys)
	v.SetDefault("distro.codec", d.Distro.Codec)
	v.SetDefault("distro.compression", d.Distro.Compression)
	v.SetDefault("distro.client_version", d.Distro.ClientVersion)
	v.SetDefault("distro.key_analyzers", d.Distro.KeyAnalyzers)
	v.SetDefault("distro.stores", d.Distro.Stores)

	// Notify defaults
	v.SetDefault("notify.type", d.Notify.Type)
	v.SetDefault("notify.subject_prefix", d.Notify.SubjectPrefix)
	v.SetDefault("notify.redis_stream", d.Notify.RedisStream)

	// Metrics defaults
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       8848,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			BodyLimit:      16 * 1024 * 1024,
			ReadBufferSize: 16 * 1024,
		},
		Cluster: ClusterConfig{
			Standalone:          true,
			Membership:          "static",
			HealthCheckInterval: 5 * time.Second,
			HealthCheckTimeout:  2 * time.Second,
			EtcdPrefix:          "/distro/members/",
			LeaseTTL:            10,
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			DialTimeout: 5 * time.Second,
		},
		Distro: DistroConfig{
			Enabled:                 true,
			SyncDelay:               0,
			BatchSyncKeyCount:       1000,
			TaskDispatchPeriod:      2 * time.Second,
			TaskQueueSize:           128 * 1024,
			RetryPolicy:             "time-weighted",
			RetryBaseDelay:          5 * time.Second,
			RetryMaxCoefficient:     4,
			RetryMaxDelay:           time.Minute,
			AntiEntropyInterval:     5 * time.Second,
			AntiEntropyInitialDelay: 5 * time.Second,
			BootstrapPollInterval:   time.Second,
			BootstrapPasses:         5,
			BootstrapRetryDelay:     30 * time.Second,
			HTTPTimeout:             5 * time.Second,
			MaxConcurrentPushes:     64,
			FetchBatchKeys:          100,
			Codec:                   "json",
			Compression:             "gzip",
			ClientVersion:           "distro-node/1.0",
			KeyAnalyzers:            []string{"namespaced", "service"},
			Stores:                  []string{"instances"},
		},
		Notify: NotifyConfig{
			Type:          "none",
			SubjectPrefix: "distro.changes",
			RedisStream:   "distro",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

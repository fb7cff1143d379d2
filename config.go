package cluster

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends accepted by Config.StoreBackend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Artifact backends accepted by Config.ArtifactBackend.
const (
	ArtifactMinio  = "minio"
	ArtifactMemory = "memory"
)

// Config holds configuration for the coordinator process.
type Config struct {
	// Host and Port are the HTTP listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// StoreBackend selects the state store: memory, redis or postgres.
	StoreBackend string `yaml:"store_backend"`

	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	PostgresDSN   string `yaml:"postgres_dsn"`

	// ArtifactBackend selects the artifact store: minio or memory.
	ArtifactBackend string `yaml:"artifact_backend"`

	// MinIO / S3 artifact store.
	MinioHost      string `yaml:"minio_host"`
	MinioPort      int    `yaml:"minio_port"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	// Kubeconfig is the path used by the node query. Empty means in-cluster
	// config; "none" disables the node query entirely.
	Kubeconfig string `yaml:"kubeconfig"`

	// HeartbeatTimeout is the window within which a worker counts as ONLINE.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// GracePeriod is how long a worker may stay silent before its jobs are
	// requeued or failed by the reconciler.
	GracePeriod time.Duration `yaml:"grace_period"`

	// DispatchInterval is how often the dispatch cycle runs.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`

	// ReconcileInterval is how often liveness reconciliation runs.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// DefaultStrategy is used for submissions that name no strategy.
	DefaultStrategy string `yaml:"default_strategy"`

	// DeleteArtifacts removes a job's input and output objects when the job
	// is deleted. Off by default: deleting leaves the objects in place.
	DeleteArtifacts bool `yaml:"delete_artifacts"`

	// MaxUploadSize bounds multipart submissions and result uploads, in bytes.
	MaxUploadSize int `yaml:"max_upload_size"`

	// AgentRateLimit is the per-worker request rate (per second) on the
	// agent-facing routes. Zero disables limiting.
	AgentRateLimit float64 `yaml:"agent_rate_limit"`
	AgentRateBurst int     `yaml:"agent_rate_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              5000,
		StoreBackend:      BackendMemory,
		RedisHost:         "localhost",
		RedisPort:         6379,
		ArtifactBackend:   ArtifactMinio,
		MinioHost:         "localhost",
		MinioPort:         9000,
		MinioAccessKey:    "minioadmin",
		MinioSecretKey:    "minioadmin",
		HeartbeatTimeout:  30 * time.Second,
		GracePeriod:       60 * time.Second,
		DispatchInterval:  2 * time.Second,
		ReconcileInterval: 10 * time.Second,
		DefaultStrategy:   "default",
		MaxUploadSize:     512 << 20,
		AgentRateLimit:    20,
		AgentRateBurst:    40,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// RedisAddr returns host:port for the Redis state store.
func (c Config) RedisAddr() string { return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort) }

// MinioEndpoint returns host:port for the artifact store.
func (c Config) MinioEndpoint() string { return fmt.Sprintf("%s:%d", c.MinioHost, c.MinioPort) }

// Validate checks the configuration for values the coordinator cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("cluster: postgres backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("cluster: unknown store backend %q", c.StoreBackend)
	}
	switch c.ArtifactBackend {
	case ArtifactMinio, ArtifactMemory:
	default:
		return fmt.Errorf("cluster: unknown artifact backend %q", c.ArtifactBackend)
	}
	if c.HeartbeatTimeout <= 0 {
		return errors.New("cluster: heartbeat_timeout must be positive")
	}
	if c.GracePeriod < c.HeartbeatTimeout {
		return errors.New("cluster: grace_period must not be shorter than heartbeat_timeout")
	}
	if c.DispatchInterval <= 0 || c.ReconcileInterval <= 0 {
		return errors.New("cluster: dispatch and reconcile intervals must be positive")
	}
	return nil
}

// LoadConfig builds a Config from defaults, the optional YAML file at path,
// and environment overrides, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("cluster: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("cluster: parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	envString("COORDINATOR_HOST", &c.Host)
	envString("STORE_BACKEND", &c.StoreBackend)
	envString("REDIS_HOST", &c.RedisHost)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("POSTGRES_DSN", &c.PostgresDSN)
	envString("ARTIFACT_BACKEND", &c.ArtifactBackend)
	envString("MINIO_HOST", &c.MinioHost)
	envString("MINIO_ACCESS_KEY", &c.MinioAccessKey)
	envString("MINIO_SECRET_KEY", &c.MinioSecretKey)
	envString("KUBECONFIG", &c.Kubeconfig)
	envString("DEFAULT_STRATEGY", &c.DefaultStrategy)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)

	for _, e := range []struct {
		key string
		dst *int
	}{
		{"COORDINATOR_PORT", &c.Port},
		{"REDIS_PORT", &c.RedisPort},
		{"MINIO_PORT", &c.MinioPort},
	} {
		if err := envInt(e.key, e.dst); err != nil {
			return err
		}
	}

	for _, e := range []struct {
		key string
		dst *time.Duration
	}{
		{"HEARTBEAT_TIMEOUT", &c.HeartbeatTimeout},
		{"GRACE_PERIOD", &c.GracePeriod},
		{"DISPATCH_INTERVAL", &c.DispatchInterval},
		{"RECONCILE_INTERVAL", &c.ReconcileInterval},
	} {
		if err := envDuration(e.key, e.dst); err != nil {
			return err
		}
	}

	if err := envBool("MINIO_USE_SSL", &c.MinioUseSSL); err != nil {
		return err
	}
	return envBool("DELETE_ARTIFACTS", &c.DeleteArtifacts)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("cluster: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("cluster: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("cluster: %s: %w", key, err)
	}
	*dst = b
	return nil
}

// Package config loads and validates probe configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/execution-probe/internal/probe"
)

// Storage providers.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
	StorageMinIO  = "minio"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Target  TargetConfig  `mapstructure:"target"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig locates the remote API and its credentials.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	UIURL      string `mapstructure:"ui_url"`
	GraphQLURL string `mapstructure:"graphql_url"`
	Token      string `mapstructure:"token"`
	UserAgent  string `mapstructure:"user_agent"`
}

// TargetConfig names the execution being extracted.
type TargetConfig struct {
	ExecutionID string `mapstructure:"execution_id"`
	JourneyID   string `mapstructure:"journey_id"`
	ProjectID   string `mapstructure:"project_id"`
	OrgID       string `mapstructure:"org_id"`
}

// HTTPConfig configures per-endpoint retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	RetryDelayMs   int `mapstructure:"retry_delay_ms"`
}

// CatalogConfig optionally replaces the built-in endpoint catalog.
type CatalogConfig struct {
	File string `mapstructure:"file"`
}

// StorageConfig selects where result files are written.
type StorageConfig struct {
	Provider  string      `mapstructure:"provider"`
	BaseDir   string      `mapstructure:"base_dir"`
	Prefix    string      `mapstructure:"prefix"`
	GCSBucket string      `mapstructure:"gcs_bucket"`
	MinIO     MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig holds S3-compatible endpoint settings.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// DBConfig controls the optional run ledger.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig sets the optional node-exporter textfile path.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api-app2.virtuoso.qa/api")
	v.SetDefault("api.ui_url", "https://app2.virtuoso.qa")
	v.SetDefault("api.graphql_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.user_agent", probe.DefaultUserAgent)
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("target.execution_id", "")
	v.SetDefault("target.journey_id", "")
	v.SetDefault("target.project_id", "")
	v.SetDefault("target.org_id", "")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.retry_delay_ms", 1000)
	v.SetDefault("catalog.file", "")
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.use_ssl", true)
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "probe_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	if strings.TrimSpace(c.API.Token) == "" {
		return errors.New("api.token is required")
	}
	if c.Target.ExecutionID == "" || c.Target.JourneyID == "" || c.Target.ProjectID == "" {
		return errors.New("target.execution_id, target.journey_id and target.project_id are required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.RetryDelayMs < 0 {
		return fmt.Errorf("http.retry_delay_ms must be >= 0")
	}
	switch c.Storage.Provider {
	case StorageLocal, StorageMemory:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	case StorageMinIO:
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket must be set when storage.provider is minio")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Identifiers returns the target as probe identifiers.
func (c Config) Identifiers() probe.Identifiers {
	return probe.Identifiers{
		ExecutionID: probe.Identifier(c.Target.ExecutionID),
		JourneyID:   probe.Identifier(c.Target.JourneyID),
		ProjectID:   probe.Identifier(c.Target.ProjectID),
		OrgID:       probe.Identifier(c.Target.OrgID),
	}
}

// FetcherConfig converts the HTTP section into fetcher settings.
func (c Config) FetcherConfig() probe.FetcherConfig {
	return probe.FetcherConfig{
		BaseURL:     c.API.BaseURL,
		MaxAttempts: c.HTTP.MaxAttempts,
		RetryDelay:  time.Duration(c.HTTP.RetryDelayMs) * time.Millisecond,
		Timeout:     c.RequestTimeout(),
	}
}

// RequestTimeout is the per-attempt deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RunConfig is the snapshot written into the raw results file. The token is
// redacted.
func (c Config) RunConfig() probe.RunConfig {
	ids := c.Identifiers()
	return probe.RunConfig{
		BaseURL:     c.API.BaseURL,
		UIURL:       c.API.UIURL,
		Token:       redact(c.API.Token),
		ExecutionID: ids.ExecutionID,
		JourneyID:   ids.JourneyID,
		ProjectID:   ids.ProjectID,
		OrgID:       ids.OrgID,
	}
}

func redact(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***"
}

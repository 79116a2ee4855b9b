package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Validate ValidateConfig `yaml:"validate" mapstructure:"validate"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Dedup    DedupConfig    `yaml:"dedup" mapstructure:"dedup"`
	Conflict ConflictConfig `yaml:"conflict" mapstructure:"conflict"`
	Review   ReviewConfig   `yaml:"review" mapstructure:"review"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DispatchConfig configures the stage dispatcher and its worker pools.
type DispatchConfig struct {
	WorkersPerStage int `yaml:"workers_per_stage" mapstructure:"workers_per_stage"`
	LeaseTTLSecs    int `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	PollIntervalMs  int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// RetryConfig configures per-stage retry of transient failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ValidateConfig configures validation and normalization.
type ValidateConfig struct {
	// ClaimTypesPath points to a YAML claim-type synonym mapping; empty uses
	// the built-in mapping.
	ClaimTypesPath string `yaml:"claim_types_path" mapstructure:"claim_types_path"`
}

// GeocodeConfig configures gazetteer resolution.
type GeocodeConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxCandidates       int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	LookupsPerSecond    float64 `yaml:"lookups_per_second" mapstructure:"lookups_per_second"`
}

// DedupConfig configures the duplicate detector.
type DedupConfig struct {
	NameSimilarityThreshold float64 `yaml:"name_similarity_threshold" mapstructure:"name_similarity_threshold"`
	ProximityMeters         float64 `yaml:"proximity_meters" mapstructure:"proximity_meters"`
	FlagThreshold           float64 `yaml:"flag_threshold" mapstructure:"flag_threshold"`
	DisclosureThreshold     float64 `yaml:"disclosure_threshold" mapstructure:"disclosure_threshold"`
}

// ConflictConfig configures the conflict detector severity boundaries.
type ConflictConfig struct {
	HighOverlapPct   float64 `yaml:"high_overlap_pct" mapstructure:"high_overlap_pct"`
	MediumOverlapPct float64 `yaml:"medium_overlap_pct" mapstructure:"medium_overlap_pct"`
}

// ReviewConfig configures the review gate and its SLA monitor.
type ReviewConfig struct {
	CommitConfidence float64 `yaml:"commit_confidence" mapstructure:"commit_confidence"`
	SLAHours         int     `yaml:"sla_hours" mapstructure:"sla_hours"`
	SLACheckMins     int     `yaml:"sla_check_mins" mapstructure:"sla_check_mins"`
}

// NotifyConfig configures the notification collaborator webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLAIMINTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "claim-intake.db")
	v.SetDefault("dispatch.workers_per_stage", 4)
	v.SetDefault("dispatch.lease_ttl_secs", 60)
	v.SetDefault("dispatch.poll_interval_ms", 500)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("geocode.similarity_threshold", 0.75)
	v.SetDefault("geocode.max_candidates", 2000)
	v.SetDefault("geocode.lookups_per_second", 50)
	v.SetDefault("dedup.name_similarity_threshold", 0.8)
	v.SetDefault("dedup.proximity_meters", 100)
	v.SetDefault("dedup.flag_threshold", 80)
	v.SetDefault("dedup.disclosure_threshold", 40)
	v.SetDefault("conflict.high_overlap_pct", 50)
	v.SetDefault("conflict.medium_overlap_pct", 10)
	v.SetDefault("review.commit_confidence", 70)
	v.SetDefault("review.sla_hours", 72)
	v.SetDefault("review.sla_check_mins", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

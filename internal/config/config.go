// Package config loads service configuration from defaults, an optional
// config file, and TRADEFLOW_* environment variables, in that order of
// precedence.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/mtiwari1/tradeflow/internal/credit"
	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
)

// EnvPrefix namespaces environment overrides, e.g. TRADEFLOW_HTTP_ADDR.
const EnvPrefix = "TRADEFLOW"

type Config struct {
	HTTP      ListenConfig    `mapstructure:"http"`
	GRPC      ListenConfig    `mapstructure:"grpc"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Credit    CreditConfig    `mapstructure:"credit"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ListenConfig struct {
	Addr string `mapstructure:"addr"`
}

type UploadConfig struct {
	Dir           string   `mapstructure:"dir"`
	MaxSize       int64    `mapstructure:"max_size"`
	AcceptedTypes []string `mapstructure:"accepted_types"`
}

type PipelineConfig struct {
	UploadStep         int           `mapstructure:"upload_step"`
	UploadInterval     time.Duration `mapstructure:"upload_interval"`
	ProcessingStep     int           `mapstructure:"processing_step"`
	ProcessingInterval time.Duration `mapstructure:"processing_interval"`
	Workers            int           `mapstructure:"workers"`
}

type CreditConfig struct {
	Overdraft    string `mapstructure:"overdraft"`
	DefaultQuota int    `mapstructure:"default_quota"`
}

type DBConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ExtractConfig struct {
	Backend string        `mapstructure:"backend"` // simulated | vertex
	Latency time.Duration `mapstructure:"latency"` // simulated backend only
	Project string        `mapstructure:"project"`
	Region  string        `mapstructure:"region"`
	Model   string        `mapstructure:"model"`
}

type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

type RateLimitConfig struct {
	UploadsPerMinute int `mapstructure:"uploads_per_minute"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// New returns a viper instance with defaults and environment binding. A
// non-empty configFile is read on top of the defaults.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	cfg.Upload.AcceptedTypes = splitList(cfg.Upload.AcceptedTypes)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value that has a constrained domain.
func (c *Config) Validate() error {
	if _, err := c.PipelineConfig(); err != nil {
		return err
	}
	if _, err := c.Overdraft(); err != nil {
		return err
	}
	if c.Pipeline.Workers < 1 {
		return errors.Newf("config: pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Upload.MaxSize <= 0 {
		return errors.Newf("config: upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	if len(c.Upload.AcceptedTypes) == 0 {
		return errors.New("config: upload.accepted_types is empty")
	}
	if c.Credit.DefaultQuota < 0 {
		return errors.Newf("config: credit.default_quota must not be negative, got %d", c.Credit.DefaultQuota)
	}
	if c.RateLimit.UploadsPerMinute < 0 {
		return errors.Newf("config: ratelimit.uploads_per_minute must not be negative, got %d", c.RateLimit.UploadsPerMinute)
	}
	switch c.Extract.Backend {
	case "simulated":
	case "vertex":
		if c.Extract.Project == "" {
			return errors.New("config: extract.project is required for the vertex backend")
		}
	default:
		return errors.Newf("config: unknown extract.backend %q", c.Extract.Backend)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// PipelineConfig builds the per-session pipeline configuration.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	pc := pipeline.Config{
		Policy: pipeline.Policy{
			UploadStep:         c.Pipeline.UploadStep,
			UploadInterval:     c.Pipeline.UploadInterval,
			ProcessingStep:     c.Pipeline.ProcessingStep,
			ProcessingInterval: c.Pipeline.ProcessingInterval,
		},
		Accept: intake.AcceptPolicy{
			MaxSize:    c.Upload.MaxSize,
			MediaTypes: c.Upload.AcceptedTypes,
		},
	}
	if err := pc.Policy.Validate(); err != nil {
		return pipeline.Config{}, errors.Wrap(err, "config")
	}
	return pc, nil
}

// Overdraft parses credit.overdraft.
func (c *Config) Overdraft() (credit.Overdraft, error) {
	return credit.ParseOverdraft(c.Credit.Overdraft)
}

// LogLevel parses log.level (debug, info, warn, error).
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.Wrapf(err, "config: log.level")
	}
	return lvl, nil
}

// splitList flattens comma-separated entries, as env values arrive, and
// trims each one.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

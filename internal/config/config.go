package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Source   SourceConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Insights InsightsConfig
	Schedule ScheduleConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// Token, when set, is required as a bearer token on the HTTP API.
	Token string
}

type SourceConfig struct {
	Driver string // "pgx" or "sqlite"
	DSN    string
}

type StorageConfig struct {
	Driver    string // "sqlite" or "pgx"
	DSN       string
	DataDir   string
	CacheSize int
	CacheTTL  time.Duration
}

type LLMConfig struct {
	Provider    string // "openai", "gemini" or "ollama"
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

type InsightsConfig struct {
	CallTimeout time.Duration
	Parallelism int
	// Tables is a comma-separated override of the monitored table set.
	Tables string
}

type ScheduleConfig struct {
	// Interval between scheduler checks; 0 disables the in-process schedule.
	Interval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Source: SourceConfig{
			Driver: "pgx",
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			DataDir:   defaultDataDir(),
			CacheSize: 16,
			CacheTTL:  time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
		},
		Insights: InsightsConfig{
			CallTimeout: 60 * time.Second,
			Parallelism: 4,
		},
		Schedule: ScheduleConfig{
			Interval: time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend
// ($XDG_CONFIG_HOME/inxight/config.json), a .env file in the working
// directory, environment variables, and the secrets file.
//
// Environment variables (INXIGHT_*) override file values. Secrets are never
// read from the config file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend(), defaultSecretsFile())
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFromEnv(cfg.LLM.Provider)
	}

	return cfg, nil
}

// providerKeyFromEnv returns the provider's conventional API key variable.
func providerKeyFromEnv(provider string) string {
	names := []string{"OPENAI_API_KEY"}
	if provider == "gemini" {
		names = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// ValidateGeneration checks the settings needed to run the insight pipeline.
func (c Config) ValidateGeneration() error {
	var errs []error
	if c.Source.DSN == "" {
		errs = append(errs, errors.New("missing required config: source DSN. Set it via environment variable INXIGHT_SOURCE_DSN or DATABASE_URL"))
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		errs = append(errs, fmt.Errorf("missing required config: %s API key. Set it via environment variable INXIGHT_LLM_API_KEY", c.LLM.Provider))
	}
	if c.Storage.Driver == "pgx" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("missing required config: storage DSN for the pgx storage driver. Set it via INXIGHT_STORAGE_DSN"))
	}
	return errors.Join(errs...)
}

// TableList returns the configured monitored tables, or nil for the default set.
func (c Config) TableList() []string {
	var tables []string
	for _, t := range strings.Split(c.Insights.Tables, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}
	return tables
}

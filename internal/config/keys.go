package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// aliases are conventional variables consulted when env is unset.
	aliases []string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "INXIGHT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "INXIGHT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "INXIGHT_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "source.driver", typ: kString, env: "INXIGHT_SOURCE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Source.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.Driver },
	},
	{
		key: "source.dsn", typ: kString, env: "INXIGHT_SOURCE_DSN",
		secret:  true,
		aliases: []string{"DATABASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.Source.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.DSN },
	},
	{
		key: "storage.driver", typ: kString, env: "INXIGHT_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.dsn", typ: kString, env: "INXIGHT_STORAGE_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DSN },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INXIGHT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.cache_size", typ: kInt, env: "INXIGHT_STORAGE_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Storage.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.CacheSize },
	},
	{
		key: "storage.cache_ttl", typ: kDuration, env: "INXIGHT_STORAGE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Storage.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Storage.CacheTTL },
	},
	{
		key: "llm.provider", typ: kString, env: "INXIGHT_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "INXIGHT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "INXIGHT_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.model", typ: kString, env: "INXIGHT_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "INXIGHT_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "insights.call_timeout", typ: kDuration, env: "INXIGHT_INSIGHTS_CALL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Insights.CallTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Insights.CallTimeout },
	},
	{
		key: "insights.parallelism", typ: kInt, env: "INXIGHT_INSIGHTS_PARALLELISM",
		apply:   func(cfg *Config, v any) { cfg.Insights.Parallelism = v.(int) },
		extract: func(cfg Config) any { return cfg.Insights.Parallelism },
	},
	{
		key: "insights.tables", typ: kString, env: "INXIGHT_INSIGHTS_TABLES",
		apply:   func(cfg *Config, v any) { cfg.Insights.Tables = v.(string) },
		extract: func(cfg Config) any { return cfg.Insights.Tables },
	},
	{
		key: "schedule.interval", typ: kDuration, env: "INXIGHT_SCHEDULE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Schedule.Interval },
	},
	{
		key: "log.level", typ: kString, env: "INXIGHT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text into the Go value for s.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.env, os.Getenv(s.env)
		for _, alias := range s.aliases {
			if raw != "" {
				break
			}
			name, raw = alias, os.Getenv(alias)
		}
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func applySecrets(cfg *Config, store secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := store.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

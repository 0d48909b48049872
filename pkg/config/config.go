// Package config assembles the fabric's process-wide configuration once,
// at startup, from the environment plus an optional YAML override file.
// Nothing downstream re-reads the environment: components hold a *Config
// reference handed to them by main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Redis holds the stream store connection knobs.
type Redis struct {
	URL          string        `yaml:"url"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	DB           int           `yaml:"db"`
	Password     string        `yaml:"password"`
	Namespace    string        `yaml:"namespace"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	StreamMaxLen int64         `yaml:"stream_maxlen"`
	EnableDLQ    bool          `yaml:"enable_dlq"`
}

// Ops holds heartbeat and idempotency-lock tuning.
type Ops struct {
	HeartbeatEnabled  bool          `yaml:"heartbeat_enabled"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
}

// Persist holds the read/write table allowlists.
type Persist struct {
	ReadTables  []string `yaml:"read_tables"`
	WriteTables []string `yaml:"write_tables"`
	WriteDeny   []string `yaml:"write_deny"`
}

// RAG holds RetrievalAgent tuning knobs.
type RAG struct {
	DefaultLimit             int  `yaml:"default_limit"`
	MaxLimit                 int  `yaml:"max_limit"`
	SummaryThreshold         int  `yaml:"summary_threshold"`
	MaxFallbacksPerMin       int  `yaml:"max_fallbacks_per_min"`
	ReformulationMaxAttempts int  `yaml:"reformulation_max_attempts"`
	CacheDisabled            bool `yaml:"cache_disabled"`
	DefaultListOnEmpty       bool `yaml:"default_list_on_empty"`
}

// Log holds the ambient logger's init knobs.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the fully-resolved, immutable-after-load process configuration.
type Config struct {
	Redis       Redis   `yaml:"redis"`
	Ops         Ops     `yaml:"ops"`
	Persist     Persist `yaml:"persist"`
	RAG         RAG     `yaml:"rag"`
	Log         Log     `yaml:"log"`
	MetricsAddr string  `yaml:"metrics_addr"`
}

// Default returns a Config with every knob set to its baseline value.
func Default() *Config {
	return &Config{
		Redis: Redis{
			Namespace:    "agentic",
			MaxRetries:   3,
			RetryBackoff: 2 * time.Second,
			StreamMaxLen: 10000,
			EnableDLQ:    true,
		},
		Ops: Ops{
			HeartbeatEnabled:  true,
			HeartbeatTTL:      30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			IdempotencyTTL:    5 * time.Minute,
		},
		Persist: Persist{
			ReadTables:  []string{"leads"},
			WriteTables: []string{"leads"},
		},
		RAG: RAG{
			DefaultLimit:             20,
			MaxLimit:                 200,
			SummaryThreshold:         500,
			MaxFallbacksPerMin:       10,
			ReformulationMaxAttempts: 3,
		},
		Log: Log{Level: "info"},
	}
}

// Load builds a Config from Default(), an optional YAML file at
// yamlPath (skipped silently if empty or missing), and finally the
// process environment, in that order of increasing precedence, all
// centralized into one function called exactly once at startup.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if b, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := envInt("REDIS_PORT"); v != nil {
		cfg.Redis.Port = *v
	}
	if v := envInt("REDIS_DB"); v != nil {
		cfg.Redis.DB = *v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_NAMESPACE"); v != "" {
		cfg.Redis.Namespace = v
	}
	if v := envInt("REDIS_MAX_RETRIES"); v != nil {
		cfg.Redis.MaxRetries = *v
	}
	if v := envInt("REDIS_RETRY_BACKOFF_MS"); v != nil {
		cfg.Redis.RetryBackoff = time.Duration(*v) * time.Millisecond
	}
	if v := envInt64("REDIS_STREAM_MAXLEN"); v != nil {
		cfg.Redis.StreamMaxLen = *v
	}
	if v := envBool("ENABLE_DLQ"); v != nil {
		cfg.Redis.EnableDLQ = *v
	}

	if v := envBool("OPS_HB_ENABLED"); v != nil {
		cfg.Ops.HeartbeatEnabled = *v
	}
	if v := envInt("OPS_HB_TTL"); v != nil {
		cfg.Ops.HeartbeatTTL = time.Duration(*v) * time.Second
	}
	if v := envInt("OPS_HB_INTERVAL"); v != nil {
		cfg.Ops.HeartbeatInterval = time.Duration(*v) * time.Second
	}
	if v := envInt("OPS_IDEMP_TTL"); v != nil {
		cfg.Ops.IdempotencyTTL = time.Duration(*v) * time.Second
	}

	if v := envList("PERSIST_READ_TABLES"); v != nil {
		cfg.Persist.ReadTables = v
	}
	if v := envList("PERSIST_WRITE_TABLES"); v != nil {
		cfg.Persist.WriteTables = v
	}
	if v := envList("PERSIST_WRITE_DENY"); v != nil {
		cfg.Persist.WriteDeny = v
	}

	if v := envInt("RAG_DEFAULT_LIMIT"); v != nil {
		cfg.RAG.DefaultLimit = *v
	}
	if v := envInt("RAG_MAX_LIMIT"); v != nil {
		cfg.RAG.MaxLimit = *v
	}
	if v := envInt("RAG_SUMMARY_THRESHOLD"); v != nil {
		cfg.RAG.SummaryThreshold = *v
	}
	if v := envInt("RAG_MAX_FALLBACKS_PER_MIN"); v != nil {
		cfg.RAG.MaxFallbacksPerMin = *v
	}
	if v := envInt("RAG_REFORMULATION_MAX_ATTEMPTS"); v != nil {
		cfg.RAG.ReformulationMaxAttempts = *v
	}
	if v := envBool("RAG_CACHE_DISABLED"); v != nil {
		cfg.RAG.CacheDisabled = *v
	}
	if v := envBool("RAG_DEFAULT_LIST_ON_EMPTY"); v != nil {
		cfg.RAG.DefaultListOnEmpty = *v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := envBool("LOG_JSON"); v != nil {
		cfg.Log.JSON = *v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	// Tables named in PERSIST_WRITE_DENY are governance tables that must
	// never appear in write_tables even if the YAML/env above listed them.
	if len(cfg.Persist.WriteDeny) > 0 {
		deny := make(map[string]bool, len(cfg.Persist.WriteDeny))
		for _, t := range cfg.Persist.WriteDeny {
			deny[t] = true
		}
		filtered := cfg.Persist.WriteTables[:0:0]
		for _, t := range cfg.Persist.WriteTables {
			if !deny[t] {
				filtered = append(filtered, t)
			}
		}
		cfg.Persist.WriteTables = filtered
	}
}

func envInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envInt64(key string) *int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func envBool(key string) *bool {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

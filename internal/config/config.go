package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all hypermem configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	LLM      LLMConfig      `toml:"llm"`
	Memory   MemoryConfig   `toml:"memory"`
	Ingest   IngestConfig   `toml:"ingest"`
	Schedule ScheduleConfig `toml:"schedule"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Bind            string   `toml:"bind"`
	Port            int      `toml:"port"`
	ContextCacheTTL Duration `toml:"context_cache_ttl"`
	ContextCacheMax int      `toml:"context_cache_max"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LLMConfig struct {
	Provider     string `toml:"provider"` // "anthropic", "ollama", "none"
	Model        string `toml:"model"`
	OllamaURL    string `toml:"ollama_url"`
	OllamaModel  string `toml:"ollama_model"`
	AnthropicKey string `toml:"anthropic_key"`
}

// MemoryConfig tunes decay, pruning and retrieval ranking.
type MemoryConfig struct {
	DecayRate        float64 `toml:"decay_rate"`      // per day
	AccessBoost      float64 `toml:"access_boost"`    // additive, per recorded access, applied by decay
	RetrievalBoost   float64 `toml:"retrieval_boost"` // multiplicative, applied on each read
	UrgencyCeiling   float64 `toml:"urgency_ceiling"`
	RetrievalFloor   float64 `toml:"retrieval_floor"`
	PruneMinUrgency  float64 `toml:"prune_min_urgency"`
	PruneMinAgeDays  float64 `toml:"prune_min_age_days"`
	ImportanceWeight float64 `toml:"importance_weight"`
	UrgencyWeight    float64 `toml:"urgency_weight"`
}

type IngestConfig struct {
	FeedLeeway      Duration `toml:"feed_leeway"`
	FeedInterval    Duration `toml:"feed_interval"` // default for new feeds
	MaxItems        int      `toml:"max_items"`
	FeedConcurrency int      `toml:"feed_concurrency"`
	ChunkSize       int      `toml:"chunk_size"`
	UploadDir       string   `toml:"upload_dir"`
}

// ScheduleConfig holds cron specs understood by robfig/cron.
type ScheduleConfig struct {
	Maintenance string `toml:"maintenance"`
	Feeds       string `toml:"feeds"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// Duration lets TOML carry values like "90s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:            "127.0.0.1",
			Port:            37780,
			ContextCacheTTL: Duration{30 * time.Second},
			ContextCacheMax: 512,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "none",
		},
		Memory: MemoryConfig{
			DecayRate:        0.05,
			AccessBoost:      0.1,
			RetrievalBoost:   1.1,
			UrgencyCeiling:   10.0,
			RetrievalFloor:   0.1,
			PruneMinUrgency:  0.05,
			PruneMinAgeDays:  30,
			ImportanceWeight: 2,
			UrgencyWeight:    1,
		},
		Ingest: IngestConfig{
			FeedLeeway:      Duration{time.Minute},
			FeedInterval:    Duration{time.Hour},
			MaxItems:        5,
			FeedConcurrency: 4,
			ChunkSize:       4000,
		},
		Schedule: ScheduleConfig{
			Maintenance: "@hourly",
			Feeds:       "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns ~/.hypermem/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".hypermem", "config.toml"), nil
}

// Load reads a .env file if present, decodes the TOML file at path over the
// defaults, and applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.AnthropicKey = key
		if c.LLM.Provider == "" || c.LLM.Provider == "none" {
			c.LLM.Provider = "anthropic"
		}
	}
	if p := os.Getenv("HYPERMEM_DB"); p != "" {
		c.Database.Path = p
	}
	if lvl := os.Getenv("HYPERMEM_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Validate rejects settings that would break decay or ranking.
func (c *Config) Validate() error {
	m := c.Memory
	switch {
	case m.UrgencyCeiling <= 0:
		return fmt.Errorf("memory.urgency_ceiling must be positive, got %v", m.UrgencyCeiling)
	case m.DecayRate < 0:
		return fmt.Errorf("memory.decay_rate must not be negative, got %v", m.DecayRate)
	case m.AccessBoost < 0:
		return fmt.Errorf("memory.access_boost must not be negative, got %v", m.AccessBoost)
	case m.RetrievalBoost < 1:
		return fmt.Errorf("memory.retrieval_boost must be at least 1, got %v", m.RetrievalBoost)
	case m.RetrievalFloor < 0 || m.RetrievalFloor >= m.UrgencyCeiling:
		return fmt.Errorf("memory.retrieval_floor out of range: %v", m.RetrievalFloor)
	case m.PruneMinAgeDays < 0:
		return fmt.Errorf("memory.prune_min_age_days must not be negative, got %v", m.PruneMinAgeDays)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.MaxItems <= 0 {
		return fmt.Errorf("ingest.max_items must be positive, got %d", c.Ingest.MaxItems)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

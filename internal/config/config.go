package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vytor/ucibridge/internal/logger"
)

type Config struct {
	Addr               string `yaml:"addr"`
	DBPath             string `yaml:"db_path"`
	LogLevel           string `yaml:"log_level"`
	EnginePath         string `yaml:"engine_path"`
	EngineSessions     int    `yaml:"engine_sessions"`
	EngineThreads      int    `yaml:"engine_threads"`
	EngineHashMB       int    `yaml:"engine_hash_mb"`
	EngineElo          int    `yaml:"engine_elo"` // 0 = full strength
	DefaultMoveTimeMS  int    `yaml:"default_move_time_ms"`
	MinMoveTimeMS      int    `yaml:"min_move_time_ms"`
	MaxMoveTimeMS      int    `yaml:"max_move_time_ms"` // 0 = no cap
	MaxLines           int    `yaml:"max_lines"`
	ShutdownGraceMS    int    `yaml:"shutdown_grace_ms"`
	CacheMaxAgeSec     int    `yaml:"cache_max_age_sec"` // 0 disables cached answers
	AnalysisWorkers    int    `yaml:"analysis_worker_count"`
	AnalysisQueueSize  int    `yaml:"analysis_queue_size"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	RetentionDays      int    `yaml:"retention_days"` // 0 keeps history forever
}

// Load reads configuration from a .env file (if present), an optional YAML
// file named by CONFIG_FILE and environment variables, in that order of
// increasing precedence.
func Load() Config {
	// Ignore error so the app still starts when .env is absent in production.
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.Printf("ignoring config file %s: %v", path, err)
		}
	}

	cfg.Addr = envOr("ADDR", cfg.Addr)
	cfg.DBPath = envOr("DB_PATH", cfg.DBPath)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.EnginePath = envOr("ENGINE_PATH", cfg.EnginePath)
	cfg.EngineSessions = envIntOr("ENGINE_SESSIONS", cfg.EngineSessions)
	cfg.EngineThreads = envIntOr("ENGINE_THREADS", cfg.EngineThreads)
	cfg.EngineHashMB = envIntOr("ENGINE_HASH_MB", cfg.EngineHashMB)
	cfg.EngineElo = envIntOr("ENGINE_ELO", cfg.EngineElo)
	cfg.DefaultMoveTimeMS = envIntOr("DEFAULT_MOVE_TIME_MS", cfg.DefaultMoveTimeMS)
	cfg.MinMoveTimeMS = envIntOr("MIN_MOVE_TIME_MS", cfg.MinMoveTimeMS)
	cfg.MaxMoveTimeMS = envIntOr("MAX_MOVE_TIME_MS", cfg.MaxMoveTimeMS)
	cfg.MaxLines = envIntOr("MAX_LINES", cfg.MaxLines)
	cfg.ShutdownGraceMS = envIntOr("SHUTDOWN_GRACE_MS", cfg.ShutdownGraceMS)
	cfg.CacheMaxAgeSec = envIntOr("CACHE_MAX_AGE_SEC", cfg.CacheMaxAgeSec)
	cfg.AnalysisWorkers = envIntOr("ANALYSIS_WORKER_COUNT", cfg.AnalysisWorkers)
	cfg.AnalysisQueueSize = envIntOr("ANALYSIS_QUEUE_SIZE", cfg.AnalysisQueueSize)
	cfg.RateLimitPerMinute = envIntOr("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.RetentionDays = envIntOr("RETENTION_DAYS", cfg.RetentionDays)
	return cfg
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Addr:               ":8080",
		DBPath:             "file:ucibridge.db",
		LogLevel:           "INFO",
		EnginePath:         "stockfish",
		EngineSessions:     1,
		EngineThreads:      1,
		EngineHashMB:       16,
		DefaultMoveTimeMS:  1000,
		MinMoveTimeMS:      250,
		MaxMoveTimeMS:      60000,
		MaxLines:           5,
		ShutdownGraceMS:    5000,
		CacheMaxAgeSec:     3600,
		AnalysisWorkers:    4,
		AnalysisQueueSize:  64,
		RateLimitPerMinute: 60,
		RetentionDays:      30,
	}
}

// applyFile overlays the YAML file at path. Unknown keys are rejected.
func (c *Config) applyFile(path string) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return c.decodeYAML(data)
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	overlay := *c
	if err := dec.Decode(&overlay); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	*c = overlay
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("ADDR cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if _, ok := logger.LookupLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of DEBUG, INFO, WARN, ERROR", c.LogLevel))
	}
	if c.EnginePath != "" {
		if _, err := exec.LookPath(c.EnginePath); err != nil {
			errs = append(errs, fmt.Errorf("ENGINE_PATH %q not found: %w", c.EnginePath, err))
		}
	}
	if c.EngineSessions < 1 {
		errs = append(errs, fmt.Errorf("ENGINE_SESSIONS must be at least 1, got %d", c.EngineSessions))
	}
	if c.EngineThreads < 1 {
		errs = append(errs, fmt.Errorf("ENGINE_THREADS must be at least 1, got %d", c.EngineThreads))
	}
	if c.EngineHashMB < 1 {
		errs = append(errs, fmt.Errorf("ENGINE_HASH_MB must be at least 1, got %d", c.EngineHashMB))
	}
	if c.EngineElo < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_ELO cannot be negative, got %d", c.EngineElo))
	}
	if c.MinMoveTimeMS < 1 {
		errs = append(errs, fmt.Errorf("MIN_MOVE_TIME_MS must be positive, got %d", c.MinMoveTimeMS))
	}
	if c.DefaultMoveTimeMS < c.MinMoveTimeMS {
		errs = append(errs, fmt.Errorf("DEFAULT_MOVE_TIME_MS (%d) cannot be below MIN_MOVE_TIME_MS (%d)", c.DefaultMoveTimeMS, c.MinMoveTimeMS))
	}
	if c.MaxMoveTimeMS != 0 && c.MaxMoveTimeMS < c.DefaultMoveTimeMS {
		errs = append(errs, fmt.Errorf("MAX_MOVE_TIME_MS (%d) cannot be below DEFAULT_MOVE_TIME_MS (%d)", c.MaxMoveTimeMS, c.DefaultMoveTimeMS))
	}
	if c.MaxLines < 1 || c.MaxLines > 500 {
		errs = append(errs, fmt.Errorf("MAX_LINES must be between 1 and 500, got %d", c.MaxLines))
	}
	if c.ShutdownGraceMS < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_GRACE_MS cannot be negative, got %d", c.ShutdownGraceMS))
	}
	if c.CacheMaxAgeSec < 0 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_AGE_SEC cannot be negative, got %d", c.CacheMaxAgeSec))
	}
	if c.AnalysisWorkers < 1 {
		errs = append(errs, fmt.Errorf("ANALYSIS_WORKER_COUNT must be at least 1, got %d", c.AnalysisWorkers))
	}
	if c.AnalysisQueueSize < 1 {
		errs = append(errs, fmt.Errorf("ANALYSIS_QUEUE_SIZE must be at least 1, got %d", c.AnalysisQueueSize))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE cannot be negative, got %d", c.RateLimitPerMinute))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS cannot be negative, got %d", c.RetentionDays))
	}
	return errors.Join(errs...)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Printf("invalid value for %s=%q, using default %d", key, v, def)
	}
	return def
}

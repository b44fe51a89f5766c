package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int               `json:"port"`
	JWTSecret   string            `json:"jwt_secret"`
	JWTTTLHours int               `json:"jwt_ttl_hours"`
	LogConfig   logger.LogConfig  `json:"log_config"`
	Database    DatabaseConfig    `json:"database"`
	Leaderboard LeaderboardConfig `json:"leaderboard"`
	FileStore   FileStoreConfig   `json:"file_store"`
	CORS        []string          `json:"cors_allowlist"`
	// CommentRateLimitSeconds throttles comment writes per client; 0 disables it.
	CommentRateLimitSeconds int `json:"comment_rate_limit_seconds"`
}

// DatabaseConfig selects the document store backend. Data carries the
// driver specific connection settings.
type DatabaseConfig struct {
	Driver string      `json:"driver"`
	Name   string      `json:"name"`
	Data   interface{} `json:"data"`
}

type LeaderboardConfig struct {
	Limit           int    `json:"limit"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	PublishCron     string `json:"publish_cron"`
	PublishKey      string `json:"publish_key"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.JWTTTLHours == 0 {
		c.JWTTTLHours = 72
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "mongo"
	}
	switch c.Database.Driver {
	case "mongo", "postgres":
		if c.Database.Data == nil {
			return fmt.Errorf("database.data is required for %s driver", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be mongo, postgres or memory")
	}
	if c.Database.Name == "" {
		c.Database.Name = "sample_mflix"
	}
	if c.Leaderboard.Limit <= 0 {
		c.Leaderboard.Limit = 20
	}
	if c.Leaderboard.CacheTTLSeconds == 0 {
		c.Leaderboard.CacheTTLSeconds = 60
	}
	if c.Leaderboard.PublishKey == "" {
		c.Leaderboard.PublishKey = "leaderboard/top_commenters.json"
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	switch c.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if c.Leaderboard.PublishCron != "" && c.FileStore.Data == nil {
		return fmt.Errorf("file_store.data is required when leaderboard.publish_cron is set")
	}
	return nil
}

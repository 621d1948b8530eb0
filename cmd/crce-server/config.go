package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/portal"
	"github.com/WillyEverGreen/CRCE-calc/lib/configutil/dbconfig"
)

type QueueConfig struct {
	MaxConcurrent      int `json:"max_concurrent"`
	MaxQueue           int `json:"max_queue"`
	MaxWaitSeconds     int `json:"max_wait_seconds"`
	PositionIntervalMs int `json:"position_interval_ms"`
}

func (c QueueConfig) options() admission.Options {
	return admission.Options{
		MaxConcurrent:    c.MaxConcurrent,
		MaxQueue:         c.MaxQueue,
		MaxWait:          time.Duration(c.MaxWaitSeconds) * time.Second,
		PositionInterval: time.Duration(c.PositionIntervalMs) * time.Millisecond,
	}
}

type PortalConfig struct {
	BaseURL string `json:"base_url"`
	// Credits is a json5 file with the subject credit table, the built-in table is used when empty.
	Credits          string            `json:"credits"`
	FetchConcurrency int               `json:"fetch_concurrency"`
	FetchTimeoutMs   int               `json:"fetch_timeout_ms"`
	Browser          portal.RodOptions `json:"browser"`
}

type CacheConfig struct {
	TTLMinutes int `json:"ttl_minutes"`
	// MemorySize bounds the in-process cache used when neither redis nor a database is configured.
	MemorySize int             `json:"memory_size"`
	Database   dbconfig.Struct `json:"database"`
}

type HttpConfig struct {
	Port            int    `json:"port"`
	AdminKey        string `json:"admin_key"`
	RatePerMinute   int    `json:"rate_per_minute"`
	RateBurst       int    `json:"rate_burst"`
	LeaderboardSize int    `json:"leaderboard_size"`
}

type Config struct {
	Http      HttpConfig       `json:"http"`
	Queue     QueueConfig      `json:"queue"`
	Portal    PortalConfig     `json:"portal"`
	Cache     CacheConfig      `json:"cache"`
	RedisAddr string           `json:"redis_addr"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func defaultConfig() Config {
	queue := admission.DefaultOptions()
	fetch := portal.DefaultFetchOptions()
	return Config{
		Http: HttpConfig{
			Port:            8000,
			RatePerMinute:   6,
			RateBurst:       3,
			LeaderboardSize: 50,
		},
		Queue: QueueConfig{
			MaxConcurrent:      queue.MaxConcurrent,
			MaxQueue:           queue.MaxQueue,
			MaxWaitSeconds:     int(queue.MaxWait / time.Second),
			PositionIntervalMs: int(queue.PositionInterval / time.Millisecond),
		},
		Portal: PortalConfig{
			BaseURL:          fetch.BaseURL,
			FetchConcurrency: 8,
			FetchTimeoutMs:   int(fetch.Timeout / time.Millisecond),
		},
		Cache: CacheConfig{
			TTLMinutes: 6 * 60,
			MemorySize: 1024,
		},
	}
}

// applyEnv lets deployment secrets live outside of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CRCE_ADMIN_KEY"); v != "" {
		cfg.Http.AdminKey = v
	}
	if v := os.Getenv("CRCE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("CRCE_CACHE_DSN"); v != "" {
		cfg.Cache.Database = dbconfig.Struct{PostgresDSN: v}
	}
	if v := os.Getenv("CRCE_CHROME_BIN"); v != "" {
		cfg.Portal.Browser.Bin = v
	}
}

// validate rejects values the services would otherwise panic on at startup.
func (c Config) validate() error {
	var errs []error
	positive := func(name string, value int) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, value))
		}
	}
	positive("http.port", c.Http.Port)
	positive("http.rate_per_minute", c.Http.RatePerMinute)
	positive("http.rate_burst", c.Http.RateBurst)
	positive("http.leaderboard_size", c.Http.LeaderboardSize)
	positive("queue.max_concurrent", c.Queue.MaxConcurrent)
	positive("queue.max_queue", c.Queue.MaxQueue)
	positive("queue.max_wait_seconds", c.Queue.MaxWaitSeconds)
	positive("queue.position_interval_ms", c.Queue.PositionIntervalMs)
	positive("portal.fetch_concurrency", c.Portal.FetchConcurrency)
	positive("portal.fetch_timeout_ms", c.Portal.FetchTimeoutMs)
	positive("cache.ttl_minutes", c.Cache.TTLMinutes)
	positive("cache.memory_size", c.Cache.MemorySize)
	return errors.Join(errs...)
}

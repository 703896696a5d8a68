// Package config defines the process configuration shared by the binaries.
// Every setting is a command-line flag with an environment variable source.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"dex-trending/internal/api"
	"dex-trending/internal/browser"
	"dex-trending/internal/scraper"
	"dex-trending/internal/storage/memory"
	"dex-trending/internal/trending"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Flag names.
const (
	FlagHost           = "host"
	FlagPort           = "port"
	FlagAllowedOrigins = "allowed-origins"
	FlagCacheTTL       = "cache-ttl-seconds"
	FlagCacheMaxChains = "cache-max-chains"
	FlagCacheBackend   = "cache-backend"
	FlagRedisAddr      = "redis-addr"
	FlagRedisDB        = "redis-db"
	FlagRedisPrefix    = "redis-key-prefix"
	FlagDevToolsURL    = "chrome-devtools-url"
	FlagScrapeWait     = "scrape-wait"
	FlagRowLimit       = "scrape-row-limit"
	FlagLogLevel       = "log-level"
	FlagLogFormat      = "log-format"
)

// Config holds settings fixed at startup.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string

	CacheTTL       time.Duration
	CacheMaxChains int
	CacheBackend   string
	RedisAddr      string
	RedisDB        int
	RedisKeyPrefix string

	DevToolsURL string
	ScrapeWait  time.Duration
	RowLimit    int

	LogLevel  string
	LogFormat string
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerFlags returns the flags of the API server.
func ServerFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    FlagHost,
			Value:   "0.0.0.0",
			Usage:   "HTTP listen host",
			Sources: cli.EnvVars("HOST"),
		},
		&cli.IntFlag{
			Name:    FlagPort,
			Value:   8000,
			Usage:   "HTTP listen port",
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    FlagAllowedOrigins,
			Usage:   "comma-separated CORS origins (empty allows all, without credentials)",
			Sources: cli.EnvVars("ALLOWED_ORIGINS"),
		},
		&cli.IntFlag{
			Name:    FlagCacheTTL,
			Value:   int(memory.DefaultTTL / time.Second),
			Usage:   "seconds a trending result stays fresh",
			Sources: cli.EnvVars("CACHE_TTL_SECONDS"),
		},
		&cli.IntFlag{
			Name:    FlagCacheMaxChains,
			Value:   memory.DefaultCapacity,
			Usage:   "maximum number of chains held in the cache",
			Sources: cli.EnvVars("CACHE_MAX_CHAINS"),
		},
		&cli.StringFlag{
			Name:    FlagCacheBackend,
			Value:   BackendMemory,
			Usage:   "cache backend (memory, redis)",
			Sources: cli.EnvVars("CACHE_BACKEND"),
		},
		&cli.StringFlag{
			Name:    FlagRedisAddr,
			Value:   "localhost:6379",
			Usage:   "Redis address for the redis cache backend",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.IntFlag{
			Name:    FlagRedisDB,
			Usage:   "Redis database number",
			Sources: cli.EnvVars("REDIS_DB"),
		},
		&cli.StringFlag{
			Name:    FlagRedisPrefix,
			Value:   "dex-trending",
			Usage:   "Redis key prefix",
			Sources: cli.EnvVars("REDIS_KEY_PREFIX"),
		},
	}
	return append(flags, ScrapeFlags()...)
}

// ScrapeFlags returns the flags needed to run a scrape.
func ScrapeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagDevToolsURL,
			Value:   browser.DefaultDevToolsURL,
			Usage:   "headless Chrome remote debugging endpoint",
			Sources: cli.EnvVars("CHROME_DEVTOOLS_URL"),
		},
		&cli.DurationFlag{
			Name:    FlagScrapeWait,
			Value:   scraper.DefaultWait,
			Usage:   "how long to wait for the trending table to render",
			Sources: cli.EnvVars("SCRAPE_WAIT"),
		},
		&cli.IntFlag{
			Name:    FlagRowLimit,
			Value:   trending.DefaultRowLimit,
			Usage:   "raw rows considered per scrape (0 = all)",
			Sources: cli.EnvVars("SCRAPE_ROW_LIMIT"),
		},
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Value:   "info",
			Usage:   "log level (debug, info, warn, error)",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    FlagLogFormat,
			Value:   "text",
			Usage:   "log format (text, json)",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// FromCommand reads and validates the configuration from a parsed command.
// Flags not defined on cmd keep their zero value.
func FromCommand(cmd *cli.Command) (Config, error) {
	cfg := Config{
		Host:           cmd.String(FlagHost),
		Port:           int(cmd.Int(FlagPort)),
		CacheTTL:       time.Duration(cmd.Int(FlagCacheTTL)) * time.Second,
		CacheMaxChains: int(cmd.Int(FlagCacheMaxChains)),
		CacheBackend:   strings.ToLower(strings.TrimSpace(cmd.String(FlagCacheBackend))),
		RedisAddr:      cmd.String(FlagRedisAddr),
		RedisDB:        int(cmd.Int(FlagRedisDB)),
		RedisKeyPrefix: cmd.String(FlagRedisPrefix),
		DevToolsURL:    cmd.String(FlagDevToolsURL),
		ScrapeWait:     cmd.Duration(FlagScrapeWait),
		RowLimit:       int(cmd.Int(FlagRowLimit)),
		LogLevel:       cmd.String(FlagLogLevel),
		LogFormat:      cmd.String(FlagLogFormat),
	}

	origins, err := api.ParseOrigins(cmd.String(FlagAllowedOrigins))
	if err != nil {
		return Config{}, fmt.Errorf("--%s: %w", FlagAllowedOrigins, err)
	}
	cfg.AllowedOrigins = origins

	// Stores treat zero as "use the default"; an explicit zero is a mistake.
	for _, name := range []string{FlagCacheTTL, FlagCacheMaxChains} {
		if cmd.IsSet(name) && cmd.Int(name) <= 0 {
			return Config{}, fmt.Errorf("--%s must be positive", name)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("--%s: %d out of range", FlagPort, c.Port)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("--%s must not be negative", FlagCacheTTL)
	}
	if c.CacheMaxChains < 0 {
		return fmt.Errorf("--%s must not be negative", FlagCacheMaxChains)
	}
	switch c.CacheBackend {
	case "", BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("--%s: unknown backend %q", FlagCacheBackend, c.CacheBackend)
	}
	if c.CacheBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("--%s is required for the redis backend", FlagRedisAddr)
	}
	if c.RowLimit < 0 {
		return fmt.Errorf("--%s must not be negative", FlagRowLimit)
	}
	return nil
}

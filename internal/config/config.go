package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lava-reports/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Node       NodeConfig       `mapstructure:"node"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Prices     PricesConfig     `mapstructure:"prices"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Locator    LocatorConfig    `mapstructure:"locator"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Output     OutputConfig     `mapstructure:"output"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Network string `mapstructure:"network"`
}

// NodeConfig controls how the lavad query CLI is invoked.
type NodeConfig struct {
	Binary     string        `mapstructure:"binary"`
	RPCURL     string        `mapstructure:"rpc_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RPS        float64       `mapstructure:"rps"`
}

// CacheConfig selects the shared response cache backend.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	Dir      string        `mapstructure:"dir"`
	TTL      time.Duration `mapstructure:"ttl"`
	IBCTTL   time.Duration `mapstructure:"ibc_ttl"`
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
}

// DirectoryConfig points at the provider/validator REST directory.
type DirectoryConfig struct {
	ProvidersURL  string        `mapstructure:"providers_url"`
	ValidatorsURL string        `mapstructure:"validators_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PricesConfig covers the USD price source and rate cache.
type PricesConfig struct {
	BaseURL      string             `mapstructure:"base_url"`
	APIKey       string             `mapstructure:"api_key"`
	Timeout      time.Duration      `mapstructure:"timeout"`
	TTL          time.Duration      `mapstructure:"ttl"`
	MinRate      float64            `mapstructure:"min_rate"`
	MaxRate      float64            `mapstructure:"max_rate"`
	RPS          float64            `mapstructure:"rps"`
	DenomMapPath string             `mapstructure:"denom_map_path"`
	SeedRates    map[string]float64 `mapstructure:"seed_rates"`
}

// NormalizerConfig holds the sanity bounds applied to amounts and values.
type NormalizerConfig struct {
	MinAmount float64 `mapstructure:"min_amount"`
	MaxAmount float64 `mapstructure:"max_amount"`
}

// LocatorConfig tunes the block-by-time search.
type LocatorConfig struct {
	BlocksPerDay int64         `mapstructure:"blocks_per_day"`
	Window       int64         `mapstructure:"window"`
	Tolerance    time.Duration `mapstructure:"tolerance"`
}

// WorkersConfig bounds batch fan-out.
type WorkersConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutputConfig sets where reports are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig encapsulates the optional PostgreSQL archive. A non-zero
// LockKey serialises archive writers through a postgres advisory lock.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockKey         int64         `mapstructure:"lock_key"`
}

// NotifyConfig routes report summaries.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for summaries.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAVAREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lavareport")
	v.SetDefault("app.network", "mainnet")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("node.binary", "lavad")
	v.SetDefault("node.rpc_url", "https://public-rpc.lavanet.xyz:443")
	v.SetDefault("node.timeout", "60s")
	v.SetDefault("node.max_retries", 2)
	v.SetDefault("node.rps", 20.0)

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.ibc_ttl", "168h")
	v.SetDefault("cache.prefix", "lavareport")

	v.SetDefault("directory.providers_url", "https://jsinfo.mainnet.lavanet.xyz/providers")
	v.SetDefault("directory.validators_url", "https://jsinfo.mainnet.lavanet.xyz/validators")
	v.SetDefault("directory.timeout", "30s")

	v.SetDefault("prices.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("prices.timeout", "15s")
	v.SetDefault("prices.ttl", "30m")
	v.SetDefault("prices.min_rate", 1e-7)
	v.SetDefault("prices.max_rate", 100000.0)
	v.SetDefault("prices.rps", 0.5)
	v.SetDefault("prices.denom_map_path", "CoinGekoDenomMap.json")
	v.SetDefault("prices.seed_rates", map[string]float64{
		"evmos":                      0.02137148,
		"axl-inu":                    0.00001604,
		"lava-network":               0.128505,
		"ton-stars":                  0.00057525,
		"cosmos":                     6.45,
		"zksync-bridged-usdc-zksync": 1.0,
	})

	v.SetDefault("normalizer.min_amount", 1e-20)
	v.SetDefault("normalizer.max_amount", 10_000_000_000_000.0)

	v.SetDefault("locator.blocks_per_day", 6000)
	v.SetDefault("locator.window", 5000)
	v.SetDefault("locator.tolerance", "3s")

	v.SetDefault("workers.concurrency", 8)
	v.SetDefault("workers.batch_timeout", "1h")

	v.SetDefault("output.dir", ".")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 1000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.Binary) == "" {
		return fmt.Errorf("node.binary must be set")
	}
	if strings.TrimSpace(c.Node.RPCURL) == "" {
		return fmt.Errorf("node.rpc_url must be set")
	}
	if c.Node.MaxRetries < 0 {
		return fmt.Errorf("node.max_retries cannot be negative")
	}
	switch c.Cache.Backend {
	case "file", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of file, redis, none (got %q)", c.Cache.Backend)
	}
	if c.Prices.TTL <= 0 {
		return fmt.Errorf("prices.ttl must be greater than zero")
	}
	if c.Prices.MinRate <= 0 || c.Prices.MaxRate <= c.Prices.MinRate {
		return fmt.Errorf("prices.min_rate must be positive and below prices.max_rate")
	}
	if c.Normalizer.MinAmount < 0 || c.Normalizer.MaxAmount <= c.Normalizer.MinAmount {
		return fmt.Errorf("normalizer.min_amount must be non-negative and below normalizer.max_amount")
	}
	if c.Locator.BlocksPerDay <= 0 {
		return fmt.Errorf("locator.blocks_per_day must be greater than zero")
	}
	if c.Locator.Window <= 0 {
		return fmt.Errorf("locator.window must be greater than zero")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be greater than zero")
	}
	if c.Workers.BatchTimeout <= 0 {
		return fmt.Errorf("workers.batch_timeout must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token must be set when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id must be set when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveConcurrency returns either the CLI override or config default.
func (c *Config) ResolveConcurrency(override int) int {
	if override > 0 {
		return override
	}
	return c.Workers.Concurrency
}

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"trend-oracle/internal/domain"
	"trend-oracle/internal/logging"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Price feed sources.
const (
	SourceHermes    = "hermes"
	SourceChainlink = "chainlink"
	SourceStatic    = "static"
)

// Authority modes.
const (
	AuthorityToken = "token"
	AuthorityJWT   = "jwt"
	AuthorityNone  = "none"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PriceFeed PriceFeedConfig `mapstructure:"pricefeed"`
	Bounds    BoundsConfig    `mapstructure:"bounds"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Server    ServerConfig    `mapstructure:"server"`
	Authority AuthorityConfig `mapstructure:"authority"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and configures the KV backend.
type StorageConfig struct {
	Driver          string         `mapstructure:"driver"`
	Postgres        DatabaseConfig `mapstructure:"postgres"`
	Redis           RedisConfig    `mapstructure:"redis"`
	AdvisoryLockKey int64          `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig encapsulates Redis connectivity.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

// PriceFeedConfig selects the reference price source.
type PriceFeedConfig struct {
	Source    string          `mapstructure:"source"`
	Decimals  int32           `mapstructure:"decimals"`
	Hermes    HermesConfig    `mapstructure:"hermes"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
	Static    StaticConfig    `mapstructure:"static"`
}

// HermesConfig covers the Pyth Hermes HTTP API.
type HermesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	FeedID         string        `mapstructure:"feed_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig covers on-chain data access.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	FeedAddress    string        `mapstructure:"feed_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StaticConfig is a fixed quote, in the feed's raw scale.
type StaticConfig struct {
	Price int64  `mapstructure:"price"`
	Conf  uint64 `mapstructure:"conf"`
	Expo  int32  `mapstructure:"expo"`
	// PublishTime of zero means "now" at read time.
	PublishTime int64 `mapstructure:"publish_time"`
}

// BoundsConfig is the acceptance policy as written in configuration.
type BoundsConfig struct {
	LowerRatio      decimal.Decimal `mapstructure:"lower_ratio"`
	UpperRatio      decimal.Decimal `mapstructure:"upper_ratio"`
	MaxAge          time.Duration   `mapstructure:"max_age"`
	ConfidenceRatio decimal.Decimal `mapstructure:"confidence_ratio"`
}

// Domain converts the policy to its domain form.
func (b BoundsConfig) Domain() domain.BoundsConfig {
	return domain.BoundsConfig{
		LowerRatio:      b.LowerRatio,
		UpperRatio:      b.UpperRatio,
		MaxAgeSeconds:   uint64(b.MaxAge / time.Second),
		ConfidenceRatio: b.ConfidenceRatio,
	}
}

// OracleConfig governs state lifecycle.
type OracleConfig struct {
	AutoInitialize bool `mapstructure:"auto_initialize"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// AuthorityConfig configures who may mutate the oracle.
type AuthorityConfig struct {
	Mode        string   `mapstructure:"mode"`
	Tokens      []string `mapstructure:"tokens"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	JWTIssuer   string   `mapstructure:"jwt_issuer"`
	JWTAudience string   `mapstructure:"jwt_audience"`
}

// RelayConfig drives the periodic upstream relay.
type RelayConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Interval       time.Duration `mapstructure:"interval"`
	AlignToBucket  bool          `mapstructure:"align_to_bucket"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	RunImmediately bool          `mapstructure:"run_immediately"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SuccessPath    string        `mapstructure:"success_path"`
	CandidatePath  string        `mapstructure:"candidate_path"`
	ReferencePath  string        `mapstructure:"reference_path"`
	CountPath      string        `mapstructure:"count_path"`
	Shift          int32         `mapstructure:"shift"`
}

// AlertingConfig defines rejection alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRENDORACLE")
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
	v.SetDefault("app.name", "trend-oracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.advisory_lock_key", int64(0x736d6121))
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 5)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.key_prefix", "trendoracle:")
	v.SetDefault("storage.redis.lock_ttl", "30s")

	v.SetDefault("pricefeed.source", SourceHermes)
	v.SetDefault("pricefeed.decimals", 2)
	v.SetDefault("pricefeed.hermes.base_url", "https://hermes.pyth.network")
	v.SetDefault("pricefeed.hermes.feed_id", "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43")
	v.SetDefault("pricefeed.hermes.request_timeout", "10s")
	v.SetDefault("pricefeed.hermes.user_agent", "trend-oracle/1.0")
	v.SetDefault("pricefeed.chainlink.request_timeout", "10s")
	v.SetDefault("pricefeed.static.expo", -2)

	v.SetDefault("bounds.lower_ratio", "0.5")
	v.SetDefault("bounds.upper_ratio", "2.0")
	v.SetDefault("bounds.max_age", "60s")
	v.SetDefault("bounds.confidence_ratio", "0.001")

	v.SetDefault("oracle.auto_initialize", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("authority.mode", AuthorityToken)

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.url", "http://localhost:5000/sbtc/current")
	v.SetDefault("relay.interval", "1h")
	v.SetDefault("relay.align_to_bucket", true)
	v.SetDefault("relay.startup_delay", "0s")
	v.SetDefault("relay.request_timeout", "60s")
	v.SetDefault("relay.success_path", "success")
	v.SetDefault("relay.candidate_path", "data.sbtc_target_price")
	v.SetDefault("relay.reference_path", "data.current_btc_price")
	v.SetDefault("relay.count_path", "data.data_points_used")
	v.SetDefault("relay.shift", 2)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc decodes strings and numbers into decimal.Decimal.
// Strings keep their exact value; floats go through their shortest repr.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Bounds.MaxAge < time.Second {
		return fmt.Errorf("bounds.max_age must be at least one second")
	}
	if err := c.Bounds.Domain().Validate(); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	if c.PriceFeed.Decimals < 0 || c.PriceFeed.Decimals > 18 {
		return fmt.Errorf("pricefeed.decimals must be between 0 and 18")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.PriceFeed.Source {
	case SourceHermes:
		if c.PriceFeed.Hermes.FeedID == "" {
			return fmt.Errorf("pricefeed.hermes.feed_id is required")
		}
	case SourceChainlink:
		if c.PriceFeed.Chainlink.RPCURL == "" || c.PriceFeed.Chainlink.FeedAddress == "" {
			return fmt.Errorf("pricefeed.chainlink.rpc_url and feed_address are required")
		}
	case SourceStatic:
	default:
		return fmt.Errorf("unknown pricefeed.source %q", c.PriceFeed.Source)
	}

	switch c.Authority.Mode {
	case AuthorityToken, AuthorityNone:
	case AuthorityJWT:
		if c.Authority.JWTSecret == "" {
			return fmt.Errorf("authority.jwt_secret is required in jwt mode")
		}
	default:
		return fmt.Errorf("unknown authority.mode %q", c.Authority.Mode)
	}

	if c.Relay.Enabled {
		if c.Relay.URL == "" {
			return fmt.Errorf("relay.url is required when the relay is enabled")
		}
		if c.Relay.Interval <= 0 {
			return fmt.Errorf("relay.interval must be greater than zero")
		}
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
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

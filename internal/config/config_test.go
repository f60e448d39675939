package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, DriverMemory, cfg.Storage.Driver)
	require.Equal(t, SourceHermes, cfg.PriceFeed.Source)
	require.Equal(t, int32(2), cfg.PriceFeed.Decimals)
	require.True(t, cfg.Bounds.LowerRatio.Equal(decimal.RequireFromString("0.5")))
	require.True(t, cfg.Bounds.UpperRatio.Equal(decimal.NewFromInt(2)))
	require.True(t, cfg.Bounds.ConfidenceRatio.Equal(decimal.RequireFromString("0.001")))
	require.Equal(t, 60*time.Second, cfg.Bounds.MaxAge)
	require.Equal(t, uint64(60), cfg.Bounds.Domain().MaxAgeSeconds)
	require.Equal(t, "data.sbtc_target_price", cfg.Relay.CandidatePath)
	require.Equal(t, 100000, cfg.ResolveMaxPoints(0))
	require.Equal(t, 5, cfg.ResolveMaxPoints(5))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: redis
  redis:
    addr: redis:6379
pricefeed:
  source: static
  static:
    price: 6500000
bounds:
  lower_ratio: "0.9"
  upper_ratio: 1.1
authority:
  tokens: a,b
`), 0o600))

	t.Setenv("TRENDORACLE_BOUNDS_MAX_AGE", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DriverRedis, cfg.Storage.Driver)
	require.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	require.Equal(t, int64(6500000), cfg.PriceFeed.Static.Price)
	require.True(t, cfg.Bounds.LowerRatio.Equal(decimal.RequireFromString("0.9")))
	require.True(t, cfg.Bounds.UpperRatio.Equal(decimal.RequireFromString("1.1")))
	require.Equal(t, 2*time.Minute, cfg.Bounds.MaxAge)
	require.Equal(t, []string{"a", "b"}, cfg.Authority.Tokens)
}

func TestValidateRejects(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"inverted bounds":   func(c *Config) { c.Bounds.UpperRatio = decimal.RequireFromString("0.1") },
		"zero max age":      func(c *Config) { c.Bounds.MaxAge = 0 },
		"unknown driver":    func(c *Config) { c.Storage.Driver = "sqlite" },
		"postgres w/o dsn":  func(c *Config) { c.Storage.Driver = DriverPostgres },
		"chainlink w/o rpc": func(c *Config) { c.PriceFeed.Source = SourceChainlink },
		"jwt w/o secret":    func(c *Config) { c.Authority.Mode = AuthorityJWT },
		"relay w/o url": func(c *Config) {
			c.Relay.Enabled = true
			c.Relay.URL = ""
		},
		"telegram w/o token": func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"too many decimals":  func(c *Config) { c.PriceFeed.Decimals = 30 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

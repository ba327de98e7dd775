// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Curve        CurveConfig    `mapstructure:"curve"`
	Market       MarketConfig   `mapstructure:"market"`
	Pool         PoolConfig     `mapstructure:"pool"`
	Protocol     ProtocolConfig `mapstructure:"protocol"`
	Storage      StorageConfig  `mapstructure:"storage"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Metrics      MetricsConfig  `mapstructure:"metrics"`
	Log          LogConfig      `mapstructure:"log"`
	DebugLogging bool           `mapstructure:"debug_logging"`
	Workers      int            `mapstructure:"workers"`
	Retries      int            `mapstructure:"retries"`
	EventBuffer  int            `mapstructure:"event_buffer"`
}

// CurveConfig: price(x) = A * e^(B*x). Decimal strings keep every digit.
type CurveConfig struct {
	A         string `mapstructure:"a"`
	B         string `mapstructure:"b"`
	MaxSupply string `mapstructure:"max_supply"`
}

// MarketConfig amounts are in whole units ("800000000", "0.0000001").
type MarketConfig struct {
	PrimarySupply   string    `mapstructure:"primary_supply"`
	SecondarySupply string    `mapstructure:"secondary_supply"`
	MinOrderSize    string    `mapstructure:"min_order_size"`
	TotalFeeBPS     uint64    `mapstructure:"total_fee_bps"`
	FeeShares       FeeShares `mapstructure:"fee_shares"`
}

type FeeShares struct {
	Creator          uint64 `mapstructure:"creator"`
	PlatformReferrer uint64 `mapstructure:"platform_referrer"`
	OrderReferrer    uint64 `mapstructure:"order_referrer"`
	Origin           uint64 `mapstructure:"origin"`
}

type PoolConfig struct {
	Address string `mapstructure:"address"`
	FeeBPS  uint64 `mapstructure:"fee_bps"`
}

// ProtocolConfig accounts are 0x-hex addresses or plain names, which are
// hashed into addresses.
type ProtocolConfig struct {
	FactoryAddress     string `mapstructure:"factory_address"`
	WETHAddress        string `mapstructure:"weth_address"`
	Owner              string `mapstructure:"owner"`
	FeeRecipient       string `mapstructure:"fee_recipient"`
	OriginFeeRecipient string `mapstructure:"origin_fee_recipient"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig: an empty Addr disables the price cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig: an empty Addr disables the /metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

const (
	DefaultWorkers     = 5
	DefaultRetries     = 3
	DefaultEventBuffer = 1024

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	envPrefix = "CURVEMARKET"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"curve.a":                             "0.000000001060848709",
		"curve.b":                             "0.000000004379701787",
		"curve.max_supply":                    "1000000000",
		"market.primary_supply":               "800000000",
		"market.secondary_supply":             "200000000",
		"market.min_order_size":               "0.0000001",
		"market.total_fee_bps":                333,
		"market.fee_shares.creator":           5000,
		"market.fee_shares.platform_referrer": 1500,
		"market.fee_shares.order_referrer":    1500,
		"market.fee_shares.origin":            1000,
		"pool.address":                        "pool_manager",
		"pool.fee_bps":                        100,
		"protocol.factory_address":            "factory",
		"protocol.weth_address":               "weth",
		"protocol.owner":                      "owner",
		"protocol.fee_recipient":              "protocol",
		"protocol.origin_fee_recipient":       "",
		"storage.driver":                      DriverSQLite,
		"storage.dsn":                         "data/curvemarket.db",
		"redis.addr":                          "",
		"redis.password":                      "",
		"redis.db":                            0,
		"redis.ttl":                           "10m",
		"metrics.addr":                        "",
		"log.file":                            "curvemarket.log",
		"log.max_size":                        100,
		"log.max_age":                         7,
		"log.max_backups":                     3,
		"log.compress":                        true,
		"debug_logging":                       false,
		"workers":                             DefaultWorkers,
		"retries":                             DefaultRetries,
		"event_buffer":                        DefaultEventBuffer,
	}
}

// LoadConfig reads path (any format viper knows) over the defaults. An empty
// path uses defaults and environment only. Every key can be overridden with
// CURVEMARKET_<KEY>, dots replaced by underscores.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	loadEnvironmentVariables(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func loadEnvironmentVariables(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func validateConfig(cfg *Config) error {
	if _, err := cfg.CurveParams(); err != nil {
		return err
	}
	if _, err := cfg.MarketParams(); err != nil {
		return err
	}
	if _, err := cfg.Accounts(); err != nil {
		return err
	}
	switch cfg.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN == "" {
		return errors.New("storage.dsn is empty")
	}
	if cfg.Pool.FeeBPS >= 10_000 {
		return errors.New("invalid pool.fee_bps")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Workers <= 0 {
		return errors.New("invalid workers count")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	if cfg.Redis.TTL < 0 {
		return errors.New("invalid redis.ttl")
	}
	return nil
}

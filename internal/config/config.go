// Package config loads daemon configuration from a TOML file with
// environment overrides. A .env file in the working directory is honored for
// local development.
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	NATS     NATSConfig     `toml:"nats"`
	Sim      SimConfig      `toml:"sim"`
}

type ServerConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	MigrationsDir string `toml:"migrations_dir"`
	BatchSize     int    `toml:"batch_size"`
	FlushMS       int    `toml:"flush_ms"`
}

type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// SimConfig seeds the sandbox venue: which currencies to list and at which
// quarterly tenors.
type SimConfig struct {
	Currencies []CurrencyConfig `toml:"currencies"`
	TenorDays  []int            `toml:"tenor_days"`
	OracleRate int64            `toml:"oracle_rate"`
}

type CurrencyConfig struct {
	ID                 uint16 `toml:"id"`
	Symbol             string `toml:"symbol"`
	UnderlyingDecimals int    `toml:"underlying_decimals"`
	// Initial asset exchange rate (underlying-native per 1e8 asset units,
	// scaled 1e18), as a decimal string.
	AssetRate0 string `toml:"asset_rate0"`
	// Annualized asset rate accrual, 9-decimal fixed point.
	AssetYield int64 `toml:"asset_yield"`
}

// ParseAssetRate0 decodes the configured exchange rate.
func (c CurrencyConfig) ParseAssetRate0() (*big.Int, error) {
	rate, ok := new(big.Int).SetString(c.AssetRate0, 10)
	if !ok {
		return nil, fmt.Errorf("currency %s: invalid asset_rate0 %q", c.Symbol, c.AssetRate0)
	}
	return rate, nil
}

// Default returns the sandbox configuration used when no file is given: a
// DAI-like and a USDC-like currency with two quarterly maturities each.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9100",
		},
		Postgres: PostgresConfig{
			MigrationsDir: "migrations",
			BatchSize:     100,
			FlushMS:       50,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Sim: SimConfig{
			Currencies: []CurrencyConfig{
				{ID: 2, Symbol: "DAI", UnderlyingDecimals: 18, AssetRate0: "200000000000000000000000000", AssetYield: 20_000_000},
				{ID: 3, Symbol: "USDC", UnderlyingDecimals: 6, AssetRate0: "200000000000000", AssetYield: 20_000_000},
			},
			TenorDays:  []int{90, 180},
			OracleRate: 100_000_000,
		},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides. A missing .env file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if v := os.Getenv("WFCASH_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("WFCASH_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("WFCASH_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("WFCASH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	if c.Postgres.BatchSize <= 0 {
		return fmt.Errorf("postgres.batch_size must be positive")
	}
	if len(c.Sim.Currencies) == 0 {
		return fmt.Errorf("sim.currencies must not be empty")
	}
	seen := make(map[uint16]bool)
	for _, cur := range c.Sim.Currencies {
		if cur.ID == 0 {
			return fmt.Errorf("currency %s: id must be nonzero", cur.Symbol)
		}
		if seen[cur.ID] {
			return fmt.Errorf("duplicate currency id %d", cur.ID)
		}
		seen[cur.ID] = true
		if _, err := cur.ParseAssetRate0(); err != nil {
			return err
		}
	}
	if len(c.Sim.TenorDays) == 0 {
		return fmt.Errorf("sim.tenor_days must not be empty")
	}
	if c.Sim.OracleRate <= 0 {
		return fmt.Errorf("sim.oracle_rate must be positive")
	}
	return nil
}

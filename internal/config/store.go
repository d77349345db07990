package config

import (
	"fmt"
	"os"
	"strconv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects the persistence backend. The memory driver keeps all
// state in process and is lost on restart.
type StoreConfig struct {
	Driver      string `toml:"driver"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *StoreConfig) Finalize() error {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if v := os.Getenv("TALLY_STORE_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("TALLY_STORE_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoMigrate = b
		}
	}

	switch c.Driver {
	case DriverPostgres, DriverMemory:
		return nil
	}
	return fmt.Errorf("unknown driver %q", c.Driver)
}

// Merge overwrites non-zero fields from overlay.
func (c *StoreConfig) Merge(overlay *StoreConfig) {
	if overlay.Driver != "" {
		c.Driver = overlay.Driver
	}
	if overlay.AutoMigrate {
		c.AutoMigrate = true
	}
}

// RedisConfig addresses the Redis server backing the distributed task lock.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *RedisConfig) Finalize() error {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "tally:lock:"
	}
	if v := os.Getenv("TALLY_REDIS_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("TALLY_REDIS_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("TALLY_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DB = n
		}
	}

	if c.DB < 0 {
		return fmt.Errorf("invalid db: %d", c.DB)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *RedisConfig) Merge(overlay *RedisConfig) {
	if overlay.Addr != "" {
		c.Addr = overlay.Addr
	}
	if overlay.Password != "" {
		c.Password = overlay.Password
	}
	if overlay.DB != 0 {
		c.DB = overlay.DB
	}
	if overlay.KeyPrefix != "" {
		c.KeyPrefix = overlay.KeyPrefix
	}
}

package connpool

import (
	"fmt"
	"slices"
	"time"

	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/engine/postgres"
	"github.com/yuku/connpool/internal/engine/sqlite"
	"github.com/yuku/connpool/internal/pool"
)

// MemoryPath opens a private in-memory SQLite database per connection.
const MemoryPath = sqlite.MemoryPath

// Config holds the configuration for creating a pool. It is copied on
// construction and never changes afterwards.
type Config struct {
	// Engine selects the storage engine: "sqlite" (default) or "postgres".
	Engine string `mapstructure:"engine"`

	// Path is the SQLite database file, MemoryPath, or a PostgreSQL
	// connection string. An empty path means MemoryPath for SQLite.
	Path string `mapstructure:"path"`

	MinSize int `mapstructure:"min_size"`
	MaxSize int `mapstructure:"max_size"`

	// CheckoutTimeout bounds how long a checkout waits for a connection.
	CheckoutTimeout time.Duration `mapstructure:"checkout_timeout"`

	// MaxLifetime and MaxIdleTime expire connections. Zero disables them.
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`

	// ValidationProbe is run on an idle connection before it is handed out
	// again. Empty disables validation.
	ValidationProbe string `mapstructure:"validation_probe"`

	// Workers is the number of concurrent checkouts an AsyncPool dispatches.
	// Zero means MaxSize. Time spent waiting for a free worker counts toward
	// CheckoutTimeout.
	Workers int `mapstructure:"workers"`

	// MaintenanceInterval runs Maintain periodically. Zero disables it.
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// DefaultConfig returns the default configuration for an in-memory SQLite
// pool.
func DefaultConfig() Config {
	return Config{
		Engine:          sqlite.Name,
		Path:            MemoryPath,
		MinSize:         1,
		MaxSize:         10,
		CheckoutTimeout: 30 * time.Second,
		MaxLifetime:     time.Hour,
		MaxIdleTime:     10 * time.Minute,
		ValidationProbe: "SELECT 1",
	}
}

// Engines returns the supported engine names.
func Engines() []string {
	return []string{sqlite.Name, postgres.Name}
}

func (c Config) Validate() error {
	if c.Engine != "" && !slices.Contains(Engines(), c.Engine) {
		return fmt.Errorf("unknown engine %q: supported engines are %v", c.Engine, Engines())
	}
	if c.Engine == postgres.Name && c.Path == "" {
		return fmt.Errorf("path cannot be empty for engine %s", c.Engine)
	}
	if err := c.poolConfig().Validate(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: given %d", c.Workers)
	}
	if c.MaintenanceInterval < 0 {
		return fmt.Errorf("maintenance interval cannot be negative: given %s", c.MaintenanceInterval)
	}
	return nil
}

func (c Config) poolConfig() pool.Config {
	return pool.Config{
		MinSize:         c.MinSize,
		MaxSize:         c.MaxSize,
		CheckoutTimeout: c.CheckoutTimeout,
		MaxLifetime:     c.MaxLifetime,
		MaxIdleTime:     c.MaxIdleTime,
	}
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return c.MaxSize
}

func (c Config) path() string {
	if c.Path == "" {
		return MemoryPath
	}
	return c.Path
}

func (c Config) engine() engine.Engine {
	if c.Engine == postgres.Name {
		return &postgres.Engine{}
	}
	return &sqlite.Engine{}
}

package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/VanDung-dev/Seamless-Engine/ownership"
)

const (
	// DefaultWorkers is the default size of the execution pool.
	DefaultWorkers = 4
	// DefaultMaxRetries bounds the number of re-execution rounds.
	DefaultMaxRetries = 100
)

// Config contains configuration for the scheduler.
type Config struct {
	// Workers is the number of goroutines executing transactions.
	Workers int `yaml:"workers"`
	// MaxRetries is the number of re-execution rounds allowed before the
	// block is rejected.
	MaxRetries int `yaml:"max_retries"`
	// OwnershipShards is the lock shard count of the ownership table.
	OwnershipShards int `yaml:"ownership_shards"`
	// AllowEmptyBlocks accepts blocks without transactions. They commit
	// nothing and return the current root.
	AllowEmptyBlocks bool `yaml:"allow_empty_blocks"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         DefaultWorkers,
		MaxRetries:      DefaultMaxRetries,
		OwnershipShards: ownership.DefaultShards,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.Newf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return errors.Newf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.OwnershipShards <= 0 {
		return errors.Newf("ownership_shards must be positive, got %d", c.OwnershipShards)
	}
	return nil
}

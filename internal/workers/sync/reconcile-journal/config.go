package reconcilejournal

import (
	"fmt"
	"time"

	"submission-sync/internal/remote"
)

type Config struct {
	Table    string
	IDColumn string
	// MaxRetries is the number of extra attempts after a locked error.
	MaxRetries int
	// The wait before retry k is k * BackoffUnit.
	BackoffUnit time.Duration
	CallTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Table:       "submissions",
		IDColumn:    remote.ColumnRequestID,
		MaxRetries:  3,
		BackoffUnit: 2 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Table == "" || c.IDColumn == "" {
		return fmt.Errorf("table and id column are required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.BackoffUnit < 0 {
		return fmt.Errorf("backoff unit must not be negative")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	return nil
}

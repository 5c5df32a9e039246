package processsubmission

import (
	"fmt"
	"time"

	"submission-sync/internal/remote"
)

type Config struct {
	Table    string
	IDColumn string
	// CallTimeout bounds each remote table call.
	CallTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Table:       "submissions",
		IDColumn:    remote.ColumnRequestID,
		CallTimeout: 30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.IDColumn == "" {
		return fmt.Errorf("id column is required")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	return nil
}

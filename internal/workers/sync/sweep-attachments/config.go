package sweepattachments

import (
	"fmt"
	"time"
)

type Config struct {
	Folder        string
	RetentionDays int
	CallTimeout   time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Folder:        "attachments",
		RetentionDays: 90,
		CallTimeout:   30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Folder == "" {
		return fmt.Errorf("folder is required")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	return nil
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

package uploadattachments

import (
	"fmt"
	"time"
)

type Config struct {
	// Workers bounds concurrent uploads for one submission.
	Workers     int
	Folder      string
	ScratchDir  string
	CallTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Workers:     3,
		Folder:      "attachments",
		CallTimeout: 30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	if c.Folder == "" {
		return fmt.Errorf("folder is required")
	}
	return nil
}

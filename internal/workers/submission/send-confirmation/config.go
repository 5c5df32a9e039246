package sendconfirmation

import (
	"fmt"
	"strings"
	"time"
)

const DefaultSubjectTemplate = "Submission Confirmation - {{request_id}}"

type Config struct {
	EmailEnabled    bool
	FromEmail       string
	CC              []string
	SubjectTemplate string
	SNSEnabled      bool
	TopicARN        string
	// RecipientField names the submission field holding the recipient list.
	RecipientField string
	Timeout        time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		SubjectTemplate: DefaultSubjectTemplate,
		RecipientField:  "email",
		Timeout:         30 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.EmailEnabled && strings.TrimSpace(c.FromEmail) == "" {
		return fmt.Errorf("from email is required when email is enabled")
	}
	if c.SNSEnabled && strings.TrimSpace(c.TopicARN) == "" {
		return fmt.Errorf("topic arn is required when sns is enabled")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

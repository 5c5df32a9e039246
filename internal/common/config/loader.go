// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// Secrets that are commonly injected by the deployment rather than the yaml.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Token.Password == "" {
		cfg.Token.Password = os.Getenv("RPA_BOT_PASSWORD")
	}
	if cfg.Token.FallbackToken == "" {
		cfg.Token.FallbackToken = os.Getenv("REMOTE_ACCESS_TOKEN")
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Server.DebugToken == "" {
		cfg.Server.DebugToken = os.Getenv("DEBUG_TOKEN")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "submission-sync"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8010"
	}
	if cfg.Server.ShutdownGraceMs == 0 {
		cfg.Server.ShutdownGraceMs = 30000
	}

	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = "file"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "/tmp/submission_journal.json"
	}
	if cfg.Journal.PostgresTable == "" {
		cfg.Journal.PostgresTable = "submission_journal"
	}
	if cfg.Journal.PostgresKey == "" {
		cfg.Journal.PostgresKey = "default"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if cfg.Remote.TableBackend == "" {
		cfg.Remote.TableBackend = "memory"
	}
	if cfg.Remote.TableName == "" {
		cfg.Remote.TableName = "submissions"
	}
	if cfg.Remote.IDColumn == "" {
		cfg.Remote.IDColumn = "Request_ID"
	}
	if cfg.Remote.FileBackend == "" {
		cfg.Remote.FileBackend = "memory"
	}
	if cfg.Remote.LocalRoot == "" {
		cfg.Remote.LocalRoot = "/tmp/submission_files"
	}
	if cfg.Remote.CallTimeoutMs == 0 {
		cfg.Remote.CallTimeoutMs = 30000
	}
	if cfg.Remote.LockTimeoutMs == 0 {
		cfg.Remote.LockTimeoutMs = 2000
	}

	if cfg.Sync.IntervalMs == 0 {
		cfg.Sync.IntervalMs = int(time.Hour / time.Millisecond)
	}
	if cfg.Sync.StartupDelayMs == 0 {
		cfg.Sync.StartupDelayMs = 30000
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.BackoffUnitMs == 0 {
		cfg.Sync.BackoffUnitMs = 2000
	}
	if cfg.Sync.LockTTLMs == 0 {
		cfg.Sync.LockTTLMs = int(30 * time.Minute / time.Millisecond)
	}

	if cfg.Retention.IntervalMs == 0 {
		cfg.Retention.IntervalMs = int(24 * time.Hour / time.Millisecond)
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}

	if cfg.Uploads.Workers == 0 {
		cfg.Uploads.Workers = 3
	}

	if cfg.Intake.RecipientField == "" {
		cfg.Intake.RecipientField = "email"
	}
	if cfg.Intake.MaxAttachments == 0 {
		cfg.Intake.MaxAttachments = 10
	}
	if cfg.Intake.MaxAttachmentBytes == 0 {
		cfg.Intake.MaxAttachmentBytes = 20 << 20
	}

	if cfg.Token.LifetimeMs == 0 {
		cfg.Token.LifetimeMs = int(time.Hour / time.Millisecond)
	}
	if cfg.Token.RefreshBufferMs == 0 {
		cfg.Token.RefreshBufferMs = int(5 * time.Minute / time.Millisecond)
	}

	if cfg.Notifications.Email.SubjectTemplate == "" {
		cfg.Notifications.Email.SubjectTemplate = "Submission Confirmation - {{request_id}}"
	}
	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = cfg.Remote.Region
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.Journal.Backend {
	case "file":
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for the file backend")
		}
	case "postgres":
		if !cfg.Database.Postgres.Enabled() {
			return fmt.Errorf("database.postgres.host is required for the postgres journal")
		}
	case "memory":
	default:
		return fmt.Errorf("journal.backend %q is not supported", cfg.Journal.Backend)
	}

	switch cfg.Remote.TableBackend {
	case "elasticsearch":
		if cfg.Database.Elasticsearch.GetURL() == "" {
			return fmt.Errorf("database.elasticsearch.addresses or url is required")
		}
	case "postgres":
		if !cfg.Database.Postgres.Enabled() {
			return fmt.Errorf("database.postgres.host is required for the postgres remote table")
		}
	case "memory":
	default:
		return fmt.Errorf("remote.table_backend %q is not supported", cfg.Remote.TableBackend)
	}

	switch cfg.Remote.FileBackend {
	case "s3":
		if cfg.Remote.Bucket == "" {
			return fmt.Errorf("remote.bucket is required for the s3 file backend")
		}
	case "local", "memory":
	default:
		return fmt.Errorf("remote.file_backend %q is not supported", cfg.Remote.FileBackend)
	}

	if cfg.Sync.DistributedLock && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when sync.distributed_lock is set")
	}
	if cfg.Token.Enabled && cfg.Token.APIURL == "" {
		return fmt.Errorf("token.api_url is required when the token manager is enabled")
	}
	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when sns is enabled")
	}
	if cfg.Uploads.Workers < 1 {
		return fmt.Errorf("uploads.workers must be positive")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

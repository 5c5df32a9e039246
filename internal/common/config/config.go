// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Journal       JournalConfig      `mapstructure:"journal"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Remote        RemoteConfig       `mapstructure:"remote"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Retention     RetentionConfig    `mapstructure:"retention"`
	Uploads       UploadsConfig      `mapstructure:"uploads"`
	Intake        IntakeConfig       `mapstructure:"intake"`
	Token         TokenConfig        `mapstructure:"token"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownGraceMs int    `mapstructure:"shutdown_grace_ms"`
	DebugToken      string `mapstructure:"debug_token"`
}

// JournalConfig selects where the submission journal is persisted.
type JournalConfig struct {
	Backend       string `mapstructure:"backend"` // file, postgres or memory
	Path          string `mapstructure:"path"`
	PostgresTable string `mapstructure:"postgres_table"`
	PostgresKey   string `mapstructure:"postgres_key"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// Enabled reports whether a Postgres host was configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RemoteConfig describes the authoritative remote store (table + attachment area).
type RemoteConfig struct {
	TableBackend  string `mapstructure:"table_backend"` // elasticsearch, postgres or memory
	TableName     string `mapstructure:"table_name"`
	IDColumn      string `mapstructure:"id_column"`
	FileBackend   string `mapstructure:"file_backend"` // s3, local or memory
	Folder        string `mapstructure:"folder"`
	LocalRoot     string `mapstructure:"local_root"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"` // S3-compatible endpoint override
	Region        string `mapstructure:"region"`
	CallTimeoutMs int    `mapstructure:"call_timeout_ms"`
	LockTimeoutMs int    `mapstructure:"lock_timeout_ms"`
}

// AttachmentsFolder is the remote area holding uploaded attachments.
func (r RemoteConfig) AttachmentsFolder() string {
	if r.Folder == "" {
		return "attachments"
	}
	return r.Folder + "/attachments"
}

type SyncConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMs      int  `mapstructure:"interval_ms"`
	StartupDelayMs  int  `mapstructure:"startup_delay_ms"`
	MaxRetries      int  `mapstructure:"max_retries"`
	BackoffUnitMs   int  `mapstructure:"backoff_unit_ms"`
	LockTTLMs       int  `mapstructure:"lock_ttl_ms"`
	DistributedLock bool `mapstructure:"distributed_lock"`
}

type RetentionConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	IntervalMs int  `mapstructure:"interval_ms"`
	Days       int  `mapstructure:"days"`
}

type UploadsConfig struct {
	Workers    int    `mapstructure:"workers"`
	ScratchDir string `mapstructure:"scratch_dir"`
}

type IntakeConfig struct {
	SchemaPath         string `mapstructure:"schema_path"`
	RecipientField     string `mapstructure:"recipient_field"`
	MaxAttachments     int    `mapstructure:"max_attachments"`
	MaxAttachmentBytes int64  `mapstructure:"max_attachment_bytes"`
}

// TokenConfig holds settings for the access token manager.
type TokenConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	APIURL          string `mapstructure:"api_url"`
	Email           string `mapstructure:"email"`
	Password        string `mapstructure:"password"`
	ApplicationName string `mapstructure:"application_name"`
	LifetimeMs      int    `mapstructure:"lifetime_ms"`
	RefreshBufferMs int    `mapstructure:"refresh_buffer_ms"`
	FallbackToken   string `mapstructure:"fallback_token"`
	SharedCache     bool   `mapstructure:"shared_cache"`
}

// NotificationConfig holds settings for the confirmation notifier.
type NotificationConfig struct {
	Email struct {
		Enabled         bool     `mapstructure:"enabled"`
		FromEmail       string   `mapstructure:"from_email"`
		CC              []string `mapstructure:"cc"`
		SubjectTemplate string   `mapstructure:"subject_template"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

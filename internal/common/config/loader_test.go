package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "app:\n  name: intake\n"))
	require.NoError(t, err)

	assert.Equal(t, "intake", cfg.App.Name)
	assert.Equal(t, ":8010", cfg.Server.Address)
	assert.Equal(t, "file", cfg.Journal.Backend)
	assert.Equal(t, "memory", cfg.Remote.TableBackend)
	assert.Equal(t, "Request_ID", cfg.Remote.IDColumn)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Hour, GetDuration(cfg.Sync.IntervalMs))
	assert.Equal(t, 24*time.Hour, GetDuration(cfg.Retention.IntervalMs))
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, 3, cfg.Uploads.Workers)
	assert.Equal(t, "email", cfg.Intake.RecipientField)
	assert.Equal(t, "Submission Confirmation - {{request_id}}", cfg.Notifications.Email.SubjectTemplate)
	assert.Equal(t, "attachments", cfg.Remote.AttachmentsFolder())
}

func TestLoadFromFile_ExpandsEnvAndSecrets(t *testing.T) {
	t.Setenv("SUBMISSION_BUCKET", "forms-prod")
	t.Setenv("RPA_BOT_PASSWORD", "s3cret")
	t.Setenv("DEBUG_TOKEN", "dbg")

	cfg, err := LoadFromFile(writeConfig(t, `
remote:
  file_backend: s3
  bucket: ${SUBMISSION_BUCKET}
  folder: forms
token:
  enabled: true
  api_url: https://auth.example.com/token
`))
	require.NoError(t, err)

	assert.Equal(t, "forms-prod", cfg.Remote.Bucket)
	assert.Equal(t, "forms/attachments", cfg.Remote.AttachmentsFolder())
	assert.Equal(t, "s3cret", cfg.Token.Password)
	assert.Equal(t, "dbg", cfg.Server.DebugToken)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown journal backend", "journal:\n  backend: sqlite\n", "journal.backend"},
		{"postgres journal without host", "journal:\n  backend: postgres\n", "database.postgres.host"},
		{"elasticsearch without address", "remote:\n  table_backend: elasticsearch\n", "database.elasticsearch"},
		{"s3 without bucket", "remote:\n  file_backend: s3\n", "remote.bucket"},
		{"lock without redis", "sync:\n  distributed_lock: true\n", "database.redis.address"},
		{"token without api url", "token:\n  enabled: true\n", "token.api_url"},
		{"sns without topic", "notifications:\n  sns:\n    enabled: true\n", "topic_arn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "forms", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=forms sslmode=disable", p.GetDSN())
	assert.True(t, p.Enabled())
	assert.False(t, PostgresConfig{}.Enabled())
}

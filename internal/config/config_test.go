package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
debug: true
substack:
  url_template: "https://%s.substack.com"
bluesky:
  pds_url: "https://pds.example.com"
  handle_suffix: ".skystack.xyz"
tasks:
  environment: local
redis:
  url: "localhost:6379"
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.ExpansionSpacing)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.FollowSpacing)
	assert.Equal(t, time.Hour, cfg.Scheduler.BackfillCooldown)
	assert.Equal(t, 10, cfg.Scheduler.BackfillIterations)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.AnnounceWindow)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.ListUpdateWindow)
	assert.Equal(t, "@hourly", cfg.Worker.CronSpec)
	assert.True(t, cfg.Tasks.Local())
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+`
server:
  address: ":9090"
scheduler:
  expansion_spacing: 60s
  backfill_iterations: 3
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, time.Minute, cfg.Scheduler.ExpansionSpacing)
	assert.Equal(t, 3, cfg.Scheduler.BackfillIterations)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SKYSTACK_PORT", "7000")
	t.Setenv("REDIS_URL", "redis.internal:6379")
	t.Setenv("SERVICE_TOKEN", "sekret")
	t.Setenv("APP_DEBUG", "false")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.URL)
	assert.Equal(t, "sekret", cfg.Auth.ServiceToken)
	assert.False(t, cfg.Debug)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing url template",
			content: `{redis: {url: "localhost:6379"}, bluesky: {pds_url: "u", handle_suffix: ".x"}}`,
			wantErr: "substack.url_template",
		},
		{
			name: "template without placeholder",
			content: `
substack: {url_template: "https://example.com"}
bluesky: {pds_url: "u", handle_suffix: ".x"}
redis: {url: "localhost:6379"}
`,
			wantErr: "placeholder",
		},
		{
			name: "missing pds url",
			content: `
substack: {url_template: "https://%s.substack.com"}
bluesky: {handle_suffix: ".x"}
redis: {url: "localhost:6379"}
`,
			wantErr: "bluesky.pds_url",
		},
		{
			name: "non-local without task endpoint",
			content: `
substack: {url_template: "https://%s.substack.com"}
bluesky: {pds_url: "u", handle_suffix: ".x"}
tasks: {environment: production}
redis: {url: "localhost:6379"}
`,
			wantErr: "tasks.base_endpoint",
		},
		{
			name: "missing redis url",
			content: `
substack: {url_template: "https://%s.substack.com"}
bluesky: {pds_url: "u", handle_suffix: ".x"}
`,
			wantErr: "redis.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

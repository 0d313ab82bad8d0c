package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("S3_KEY", "key123")
	t.Setenv("S3_SECRET", "sec456")
	t.Setenv("WHARF_HOST", "sites.example.com")
	t.Setenv("WHARF_API_TOKEN", "tok-789")
	cfgYAML := `
database: /tmp/wharf.db
publicHost: ${WHARF_HOST}
api:
  token: ${WHARF_API_TOKEN}
  corsOrigins: [https://admin.example.com]
archive:
  endpoint: https://fsn1.example.com
  bucket: wharf-backups
  accessKey: ${S3_KEY}
  secretKey: $S3_SECRET
  usePathStyle: true
`
	cfg, err := Load(writeTempConfig(t, cfgYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Archive.AccessKey != "key123" || cfg.Archive.SecretKey != "sec456" {
		t.Fatalf("credentials not expanded: %#v", cfg.Archive)
	}
	if cfg.PublicHost != "sites.example.com" {
		t.Fatalf("unexpected publicHost: %q", cfg.PublicHost)
	}
	if !cfg.ArchiveEnabled() {
		t.Fatalf("archive should be enabled when a bucket is set")
	}
	assert.Equal(t, "tok-789", cfg.API.Token)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.API.CORSOrigins)
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv("WHARF_CORS_ORIGINS", "https://ops.example.com, ,https://admin.example.com")

	cfg, err := Load(writeTempConfig(t, "database: /tmp/wharf.db\napi:\n  corsOrigins: [https://a.example.com]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://ops.example.com", "https://admin.example.com"}, cfg.API.CORSOrigins)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "database: /tmp/wharf.db\n"))
	require.NoError(t, err)

	assert.Equal(t, PortRange{Min: 4000, Max: 8000}, cfg.Ports)
	assert.Equal(t, "docker", cfg.Runtime.Executor)
	assert.Equal(t, 10*time.Minute, cfg.Exec.Timeout.Duration)
	assert.Equal(t, 8, cfg.Exec.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.WordPress.StabilizeDelay.Duration)
	assert.Equal(t, "/var/www/html", cfg.WordPress.WebRoot)
	assert.Equal(t, 5, cfg.Retention.LimitedCap)
	assert.Equal(t, 14*24*time.Hour, cfg.Retention.LimitedKeep.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Retention.HourlyKeep.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Retention.SixHourlyKeep.Duration)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.DailyKeep.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Archive.URLExpiry.Duration)
	assert.Equal(t, time.Minute, cfg.Schedule.PollEvery.Duration)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoad_DayDurations(t *testing.T) {
	cfgYAML := `
retention:
  limitedKeep: 30d
  hourlyKeep: 36h
exec:
  timeout: 90s
`
	cfg, err := Load(writeTempConfig(t, cfgYAML))
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.LimitedKeep.Duration)
	assert.Equal(t, 36*time.Hour, cfg.Retention.HourlyKeep.Duration)
	assert.Equal(t, 90*time.Second, cfg.Exec.Timeout.Duration)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "inverted port range",
			yaml:    "ports:\n  min: 8000\n  max: 4000\n",
			wantErr: "invalid port range",
		},
		{
			name:    "unknown executor",
			yaml:    "runtime:\n  executor: podman\n",
			wantErr: "unknown runtime executor",
		},
		{
			name:    "kubernetes without namespace",
			yaml:    "runtime:\n  executor: kubernetes\n",
			wantErr: "runtime.namespace is required",
		},
		{
			name:    "backup dir inside web root",
			yaml:    "wordpress:\n  backupDir: /var/www/html/backups\n",
			wantErr: "must not be inside webRoot",
		},
		{
			name:    "bad duration",
			yaml:    "exec:\n  timeout: soon\n",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("A", "alpha")
	t.Setenv("B_2", "beta")
	tests := []struct {
		in, want string
	}{
		{"${A}", "alpha"},
		{"$A/x", "alpha/x"},
		{"pre-${B_2}-post", "pre-beta-post"},
		{"${UNSET_WHARF_VAR}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

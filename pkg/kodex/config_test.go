package kodex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
database:
  dsn: ""
server:
  addr: ":9090"
  defaultRealm: acme
signing:
  hmacSecret: 0123456789abcdef0123456789abcdef
hashing:
  preset: balanced
token:
  accessValidity: 10m
  refreshValidity: 720h
  rotationPolicy: rotate
  replayGracePeriod: 5s
passwordReset:
  tokenValidity: 1h
  maxAttemptsPerUser: 3
  maxAttemptsPerIdentifier: 5
  maxAttemptsPerIp: 10
  rateLimitWindow: 1h
  cooldownPeriod: 60s
lockout:
  policy: strict
audit:
  retentionPeriod: 720h
  file:
    path: /var/log/kodex/audit.log
    maxSizeMb: 100
    maxAgeDays: 30
    maxBackups: 5
password:
  minLength: 10
  minScore: 3
  commonPasswords:
    - changeme123
phone:
  defaultRegion: US
customAttributes:
  maxKeyLength: 64
  maxAttributes: 20
  allowedKeys:
    - department
    - locale
hooks:
  failureStrategy: collect-errors
eventBus:
  queueCapacity: 2048
  drainTimeout: 10s
maintenanceInterval: 30m
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kodex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "acme", cfg.Server.DefaultRealm)
	assert.Equal(t, "balanced", cfg.Hashing.Preset)
	assert.Equal(t, 10*time.Minute, cfg.Token.AccessValidity.Std())
	assert.Equal(t, 720*time.Hour, cfg.Token.RefreshValidity.Std())
	assert.Equal(t, "rotate", cfg.Token.RotationPolicy)
	assert.Equal(t, 5*time.Second, cfg.Token.ReplayGracePeriod.Std())
	assert.Equal(t, 3, cfg.Reset.MaxAttemptsPerUser)
	assert.Equal(t, time.Minute, cfg.Reset.CooldownPeriod.Std())
	assert.Equal(t, "strict", cfg.Lockout.Policy)
	assert.Equal(t, 720*time.Hour, cfg.Audit.RetentionPeriod.Std())
	assert.Equal(t, "/var/log/kodex/audit.log", cfg.Audit.File.Path)
	assert.Equal(t, 10, cfg.Password.MinLength)
	assert.Equal(t, []string{"changeme123"}, cfg.Password.CommonPasswords)
	assert.Equal(t, "US", cfg.Phone.DefaultRegion)
	assert.Equal(t, []string{"department", "locale"}, cfg.Attrs.AllowedKeys)
	assert.Equal(t, "collect-errors", cfg.Hooks.FailureStrategy)
	assert.Equal(t, 2048, cfg.EventBus.QueueCapacity)
	assert.Equal(t, 30*time.Minute, cfg.MaintenanceInterval.Std())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "signing:\n  hmacSecret: 0123456789abcdef0123456789abcdef\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "default", cfg.Server.DefaultRealm)
	assert.Equal(t, time.Hour, cfg.MaintenanceInterval.Std())
	assert.Zero(t, cfg.Token.AccessValidity.Std(), "component defaults apply at wiring time")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "token:\n  accessValidity: soon\n"))
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
